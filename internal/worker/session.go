package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"yqhp/cherry/internal/protocol"
	"yqhp/cherry/internal/tool"
	"yqhp/cherry/pkg/utils"
)

// Serve runs the steady state of a ready worker: an echo with the current
// speed every echo interval, logging replies and notices. It returns nil when
// the master sends leave, ErrDisconnected when the connection drops, and
// ctx.Err() after telling the master it leaves.
func (w *Worker) Serve(ctx context.Context) error {
	conn := w.connection()
	if conn == nil || w.State() != StateReady {
		return ErrNotReady
	}
	defer conn.Close()

	msgs := make(chan protocol.Message, 8)
	utils.SafeGo(w.log, "worker-reader", func() {
		defer close(msgs)
		for {
			msg, err := conn.Receive(protocol.DecodeFromMaster)
			if err != nil {
				if protocol.IsDropped(err) {
					w.log.Debug("dropped message", zap.Error(err))
					continue
				}
				return
			}
			select {
			case msgs <- msg:
			case <-conn.Done():
				return
			}
		}
	})

	ticker := w.clock.NewTicker(w.cfg.Worker.EchoInterval)
	defer ticker.Stop()

	if err := w.echo(conn); err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Send(&protocol.Leave{})
			w.setState(StateDisconnected)
			return ctx.Err()

		case <-ticker.Chan():
			if err := w.echo(conn); err != nil {
				w.setState(StateDisconnected)
				return fmt.Errorf("%w: %v", ErrDisconnected, err)
			}

		case msg, ok := <-msgs:
			if !ok {
				w.setState(StateDisconnected)
				w.log.Warn("Connection to master lost")
				return ErrDisconnected
			}
			switch m := msg.(type) {
			case *protocol.EchoReply:
				w.totalSpeed.Store(m.TotalSpeed)
				w.log.Debug(fmt.Sprintf("Total speed: %d PMK/s", m.TotalSpeed))
			case *protocol.Notice:
				w.notice(m)
			case *protocol.Leave:
				w.setState(StateDisconnected)
				w.log.Info("Master closed the session")
				return nil
			default:
				w.log.Debug("unhandled message", zap.String("header", string(msg.Kind())))
			}
		}
	}
}

func (w *Worker) echo(conn *protocol.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(w.cfg.Worker.ConnectTimeout))
	return conn.Send(&protocol.EchoReport{Speed: w.speed.Load()})
}

// ReportKeyFound tells the master the password was recovered.
func (w *Worker) ReportKeyFound(password string) error {
	conn := w.connection()
	if conn == nil || w.State() != StateReady {
		return ErrNotReady
	}
	w.log.Info(fmt.Sprintf("Key found: %s", password))
	return conn.Send(&protocol.Event{Event: protocol.EventKeyFound, Password: password})
}

// Leave tells the master the worker is leaving and closes the connection.
func (w *Worker) Leave() error {
	conn := w.connection()
	if conn == nil {
		return ErrNotReady
	}
	err := conn.Send(&protocol.Leave{})
	w.setState(StateDisconnected)
	return errors.Join(err, conn.Close())
}

// Crack runs the loaded tool against the fetched capture file and reports a
// recovered key to the master.
func (w *Worker) Crack(ctx context.Context) error {
	if w.driver == nil || w.State() != StateReady {
		return ErrNotReady
	}
	var reportErr error
	err := w.driver.Run(ctx, tool.RunParams{
		CapturePath:    w.cfg.Worker.CapturePath,
		DictionaryPath: w.cfg.Worker.Dictionary,
		OnKey: func(password string) {
			reportErr = w.ReportKeyFound(password)
		},
	})
	return errors.Join(err, reportErr)
}
