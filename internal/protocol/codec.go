package protocol

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"yqhp/cherry/pkg/utils"
)

var (
	// ErrMalformed is returned for input that is not a JSON object with a header.
	ErrMalformed = errors.New("protocol: malformed message")
	// ErrUnknownHeader is returned for a header the receiving side does not handle.
	ErrUnknownHeader = errors.New("protocol: unknown header")
)

// IsDropped reports whether err concerns a single line that the receiver
// should skip while keeping the connection open.
func IsDropped(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrUnknownHeader)
}

// Decoder turns one framed line into a Message.
type Decoder func(line []byte) (Message, error)

type table map[Header]func() Message

// Messages a master accepts from a worker.
var fromWorker = table{
	HeaderJoin:    func() Message { return &JoinRequest{} },
	HeaderEcho:    func() Message { return &EchoReport{} },
	HeaderEvent:   func() Message { return &Event{} },
	HeaderLeave:   func() Message { return &Leave{} },
	HeaderMessage: func() Message { return &Notice{} },
}

// Messages a worker accepts from the master.
var fromMaster = table{
	HeaderConnect: func() Message { return &Connect{} },
	HeaderJoin:    func() Message { return &JoinResult{} },
	HeaderEcho:    func() Message { return &EchoReply{} },
	HeaderLeave:   func() Message { return &Leave{} },
	HeaderMessage: func() Message { return &Notice{} },
}

// DecodeFromWorker decodes a message received by the master.
func DecodeFromWorker(line []byte) (Message, error) {
	return fromWorker.decode(line)
}

// DecodeFromMaster decodes a message received by a worker.
func DecodeFromMaster(line []byte) (Message, error) {
	return fromMaster.decode(line)
}

func (t table) decode(line []byte) (Message, error) {
	header, err := utils.GetString(line, "header")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ctor, ok := t[Header(header)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHeader, header)
	}
	msg := ctor()
	if err := sonic.Unmarshal(line, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg, nil
}

// Encode stamps the header of msg and serializes it without a line terminator.
func Encode(msg Message) ([]byte, error) {
	msg.stamp()
	return utils.ToJSONBytes(msg)
}
