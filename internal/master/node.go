package master

import (
	"time"

	"yqhp/cherry/internal/protocol"
	"yqhp/cherry/pkg/utils"
)

// NodeState is the lifecycle state of a connected worker.
type NodeState int

const (
	// NodeUnauthenticated is a connection that has not joined yet.
	NodeUnauthenticated NodeState = iota
	// NodeJoined is a registered cluster member.
	NodeJoined
	// NodeDisconnected is a closed connection.
	NodeDisconnected
)

func (s NodeState) String() string {
	switch s {
	case NodeUnauthenticated:
		return "unauthenticated"
	case NodeJoined:
		return "joined"
	case NodeDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Node is one worker connection. Its mutable fields are owned by the
// NodeRegistry and read through snapshots.
type Node struct {
	Session string
	IP      string
	Salt    int64
	conn    *protocol.Conn

	state    NodeState
	uid      uint64
	async    bool
	speed    int64
	ready    bool
	tool     protocol.Tool
	joinedAt time.Time
}

// NewNode creates an unauthenticated node for conn with a fresh salt.
func NewNode(conn *protocol.Conn) *Node {
	return &Node{
		Session: utils.GenerateUUID(),
		IP:      conn.RemoteIP(),
		Salt:    utils.RandomSalt(),
		conn:    conn,
		state:   NodeUnauthenticated,
	}
}

// NodeInfo is a point-in-time copy of a joined node.
type NodeInfo struct {
	UID         uint64    `json:"uid"`
	Session     string    `json:"session"`
	IP          string    `json:"ip"`
	Async       bool      `json:"async"`
	Speed       int64     `json:"speed"`
	Ready       bool      `json:"ready"`
	Tool        string    `json:"tool"`
	ToolVersion string    `json:"tool_version"`
	JoinedAt    time.Time `json:"joined_at"`
}

func (n *Node) info() NodeInfo {
	return NodeInfo{
		UID:         n.uid,
		Session:     n.Session,
		IP:          n.IP,
		Async:       n.async,
		Speed:       n.speed,
		Ready:       n.ready,
		Tool:        n.tool.Name,
		ToolVersion: n.tool.Version,
		JoinedAt:    n.joinedAt,
	}
}
