// Package eventsink fans cluster events out to the operator log and, when
// configured, to a Redis channel.
package eventsink

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Event types.
const (
	TypeJoined   = "joined"
	TypeLeft     = "left"
	TypeKeyFound = "key_found"
)

// Event is a cluster membership or result notification.
type Event struct {
	Type     string    `json:"type"`
	Session  string    `json:"session"`
	IP       string    `json:"ip"`
	UID      uint64    `json:"uid"`
	Speed    int64     `json:"speed,omitempty"`
	Password string    `json:"password,omitempty"`
	Time     time.Time `json:"time"`
}

// Sink receives cluster events.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// Multi publishes to every sink and joins their errors.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to a zap logger at debug level.
type LogSink struct {
	Log *zap.Logger
}

// Publish implements Sink.
func (s LogSink) Publish(ctx context.Context, e Event) error {
	s.Log.Debug("cluster event",
		zap.String("type", e.Type),
		zap.String("session", e.Session),
		zap.String("ip", e.IP),
		zap.Uint64("uid", e.UID),
		zap.Int64("speed", e.Speed))
	return nil
}
