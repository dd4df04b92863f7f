package master

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"yqhp/cherry/internal/protocol"
)

var (
	// ErrNotJoined is returned for operations that require a joined node.
	ErrNotJoined = errors.New("node has not joined")
	// ErrAlreadyJoined is returned when a node joins twice.
	ErrAlreadyJoined = errors.New("node already joined")
)

// Filter selects broadcast recipients.
type Filter int

const (
	FilterAll Filter = iota
	FilterSync
	FilterAsync
)

func (f Filter) match(n *Node) bool {
	switch f {
	case FilterSync:
		return !n.async
	case FilterAsync:
		return n.async
	default:
		return true
	}
}

// NodeRegistry tracks joined workers and the cluster's total speed. One mutex
// guards membership, connection slots, the uid counter and total speed, so
// total speed always equals the sum of the registered nodes' speeds.
type NodeRegistry struct {
	mu         sync.Mutex
	maxClients int
	slots      int
	nodes      []*Node
	nextUID    uint64
	totalSpeed int64
	now        func() time.Time
}

// NewNodeRegistry creates a registry. maxClients <= 0 disables the limit.
func NewNodeRegistry(maxClients int) *NodeRegistry {
	return &NodeRegistry{
		maxClients: maxClients,
		nodes:      make([]*Node, 0),
		now:        time.Now,
	}
}

// Reserve claims a connection slot. Slots are held from accept until close,
// so joined nodes never outnumber max clients.
func (r *NodeRegistry) Reserve() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxClients > 0 && r.slots >= r.maxClients {
		return false
	}
	r.slots++
	return true
}

// Release returns a slot claimed by Reserve.
func (r *NodeRegistry) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots > 0 {
		r.slots--
	}
}

// Join registers n with a new uid and adds its speed to the total.
func (r *NodeRegistry) Join(n *Node, async bool, speed int64, tool protocol.Tool) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n.state != NodeUnauthenticated {
		return 0, ErrAlreadyJoined
	}

	n.uid = r.nextUID
	r.nextUID++
	n.state = NodeJoined
	n.async = async
	n.speed = speed
	n.tool = tool
	n.joinedAt = r.now()

	r.nodes = append(r.nodes, n)
	r.totalSpeed += speed
	return n.uid, nil
}

// Remove unregisters n and subtracts its last speed. It reports whether n was
// registered; removing an unknown or already removed node is a no-op.
func (r *NodeRegistry) Remove(n *Node) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasJoined := n.state == NodeJoined
	n.state = NodeDisconnected
	if !wasJoined {
		return false
	}

	for i, node := range r.nodes {
		if node.uid == n.uid {
			r.nodes = append(r.nodes[:i], r.nodes[i+1:]...)
			r.totalSpeed -= node.speed
			return true
		}
	}
	return false
}

// UpdateSpeed replaces the speed of n, adjusting the total by the difference.
// becameReady is true on the node's first nonzero report.
func (r *NodeRegistry) UpdateSpeed(n *Node, speed int64) (total int64, becameReady bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n.state != NodeJoined {
		return r.totalSpeed, false, ErrNotJoined
	}

	r.totalSpeed += speed - n.speed
	n.speed = speed
	if speed > 0 && !n.ready {
		n.ready = true
		becameReady = true
	}
	return r.totalSpeed, becameReady, nil
}

// IsJoined reports whether n is a registered member.
func (r *NodeRegistry) IsJoined(n *Node) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return n.state == NodeJoined
}

// State returns the lifecycle state of n.
func (r *NodeRegistry) State(n *Node) NodeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return n.state
}

// Info returns a copy of n's registry fields.
func (r *NodeRegistry) Info(n *Node) NodeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return n.info()
}

// TotalSpeed returns the cluster's total speed.
func (r *NodeRegistry) TotalSpeed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalSpeed
}

// Count returns the number of joined nodes.
func (r *NodeRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}

// Slots returns the number of open connections holding a slot.
func (r *NodeRegistry) Slots() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots
}

// MaxClients returns the configured limit, 0 when unlimited.
func (r *NodeRegistry) MaxClients() int {
	return r.maxClients
}

// Snapshot returns copies of all joined nodes in join order.
func (r *NodeRegistry) Snapshot() []NodeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]NodeInfo, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n.info())
	}
	return out
}

// Broadcast sends msg to every joined node matching filter and returns the
// number of successful sends. Recipients are selected under the lock; sends
// happen after it is released, one goroutine per recipient, so a stalled peer
// delays the call by at most its connection's write timeout.
func (r *NodeRegistry) Broadcast(msg protocol.Message, filter Filter) int {
	data, err := protocol.Encode(msg)
	if err != nil {
		return 0
	}

	r.mu.Lock()
	recipients := make([]*protocol.Conn, 0, len(r.nodes))
	for _, n := range r.nodes {
		if filter.match(n) {
			recipients = append(recipients, n.conn)
		}
	}
	r.mu.Unlock()

	var (
		sent atomic.Int64
		wg   sync.WaitGroup
	)
	for _, conn := range recipients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := conn.WriteLine(data); err == nil {
				sent.Add(1)
			}
		}()
	}
	wg.Wait()
	return int(sent.Load())
}
