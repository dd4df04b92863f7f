package protocol

import (
	"yqhp/cherry/pkg/utils"
)

const (
	// VersionTxt is the human readable protocol version.
	VersionTxt = "0.0.1-alpha"
	// VersionNum is the numeric protocol version sent on connect and join.
	VersionNum = 1
	// MinVersionNum is the lowest worker version a master admits.
	MinVersionNum = 1
)

// Header selects the handler of a join-port message.
type Header string

const (
	HeaderConnect Header = "connect"
	HeaderJoin    Header = "join"
	HeaderEcho    Header = "echo"
	HeaderEvent   Header = "event"
	HeaderLeave   Header = "leave"
	HeaderMessage Header = "message"
	HeaderFile    Header = "file"
)

// Status values carried by connect, join and file responses.
const (
	StatusConnected = "connected"
	StatusJoined    = "joined"
	StatusRejected  = "rejected"
	StatusOK        = "ok"
)

// EventKeyFound is reported by a worker that recovered the password.
const EventKeyFound = "key_found"

// Message is one of the join-port messages defined in this package.
type Message interface {
	Kind() Header
	stamp()
}

type envelope struct {
	Header Header `json:"header"`
}

// Connect is the master's first message on a new connection.
type Connect struct {
	envelope
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	VersionTxt   string `json:"version_txt,omitempty"`
	VersionNum   int    `json:"version_num,omitempty"`
	AsyncAllowed bool   `json:"async_allowed"`
	Secure       bool   `json:"secure"`
	Salt         int64  `json:"salt"`
}

// Tool identifies the cracking tool a worker runs.
type Tool struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// JoinRequest asks the master to admit a worker.
type JoinRequest struct {
	envelope
	VersionNum         int    `json:"version_num"`
	VersionTxt         string `json:"version_txt"`
	Secret             string `json:"secret,omitempty"`
	Async              bool   `json:"async"`
	DictionarySize     int64  `json:"dictionary_size,omitempty"`
	DictionaryChecksum string `json:"dictionary_checksum,omitempty"`
	Speed              int64  `json:"speed"`
	Tool               Tool   `json:"tool"`
}

// JoinResult answers a JoinRequest.
type JoinResult struct {
	envelope
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// EchoReport carries a worker's current speed.
type EchoReport struct {
	envelope
	Speed int64 `json:"speed"`
}

// EchoReply carries the cluster's total speed back to the reporting worker.
type EchoReply struct {
	envelope
	TotalSpeed int64 `json:"total_speed"`
}

// Event reports something that happened on a worker.
type Event struct {
	envelope
	Event    string `json:"event"`
	Password string `json:"password,omitempty"`
}

// Leave announces that the sender is closing the connection.
type Leave struct {
	envelope
}

// Notice is free text for the operator on the other side.
type Notice struct {
	envelope
	Type string `json:"type"`
	Body string `json:"body"`
}

func (*Connect) Kind() Header     { return HeaderConnect }
func (*JoinRequest) Kind() Header { return HeaderJoin }
func (*JoinResult) Kind() Header  { return HeaderJoin }
func (*EchoReport) Kind() Header  { return HeaderEcho }
func (*EchoReply) Kind() Header   { return HeaderEcho }
func (*Event) Kind() Header       { return HeaderEvent }
func (*Leave) Kind() Header       { return HeaderLeave }
func (*Notice) Kind() Header      { return HeaderMessage }

func (m *Connect) stamp()     { m.Header = m.Kind() }
func (m *JoinRequest) stamp() { m.Header = m.Kind() }
func (m *JoinResult) stamp()  { m.Header = m.Kind() }
func (m *EchoReport) stamp()  { m.Header = m.Kind() }
func (m *EchoReply) stamp()   { m.Header = m.Kind() }
func (m *Event) stamp()       { m.Header = m.Kind() }
func (m *Leave) stamp()       { m.Header = m.Kind() }
func (m *Notice) stamp()      { m.Header = m.Kind() }

// Rejected builds a join rejection.
func Rejected(reason string) *JoinResult {
	return &JoinResult{Status: StatusRejected, Reason: reason}
}

// Log builds a log notice.
func Log(body string) *Notice {
	return &Notice{Type: "log", Body: body}
}

// FileRequest is sent by a worker on the file-distribution port.
type FileRequest struct {
	Get    string `json:"get"`
	Format string `json:"format,omitempty"`
}

// File-distribution request targets.
const (
	GetHandshake  = "handshake"
	GetDictionary = "dictionary"
)

// FileResponse precedes the raw bytes of a file, or explains why none follow.
type FileResponse struct {
	Header Header `json:"header"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

// AuthDigest computes the challenge response for salt and secret.
func AuthDigest(salt int64, secret string) string {
	return utils.SaltedDigest(salt, secret)
}
