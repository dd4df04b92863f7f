package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"yqhp/cherry/internal/pipeline"
	"yqhp/cherry/internal/protocol"
	"yqhp/cherry/pkg/utils"
)

// HandshakeFormat is the capture format requested from the master.
const HandshakeFormat = "hccap"

// join connects to the master and runs the join exchange:
// connecting → awaiting-connect-ack → authenticating → awaiting-join-result.
func (w *Worker) join(ctx context.Context, p *pipeline.Pipeline, s pipeline.Storage) error {
	wc := w.cfg.Worker

	w.setState(StateConnecting)
	w.log.Info(fmt.Sprintf("Connecting to %s...", w.masterAddr(wc.MasterPort)))
	conn, err := w.dial(ctx, wc.MasterPort)
	if err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("connect to master: %w", err)
	}
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	w.setState(StateAwaitingConnect)
	_ = conn.SetReadDeadline(time.Now().Add(wc.JoinTimeout))
	msg, err := w.expect(conn, protocol.HeaderConnect)
	if err != nil {
		return err
	}
	ack := msg.(*protocol.Connect)
	if ack.Status != protocol.StatusConnected {
		return w.rejected(StageConnect, ack.Reason)
	}
	if wc.Async && !ack.AsyncAllowed {
		return w.rejected(StageConnect, protocol.ReasonAsyncDisallowed)
	}
	w.log.Debug(fmt.Sprintf("Master %s (protocol %d), secure: %t", ack.VersionTxt, ack.VersionNum, ack.Secure))

	w.setState(StateAuthenticating)
	req, err := w.joinRequest(ack)
	if err != nil {
		w.setState(StateDisconnected)
		return err
	}
	if err := conn.Send(req); err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("send join: %w", err)
	}

	w.setState(StateAwaitingJoin)
	msg, err = w.expect(conn, protocol.HeaderJoin)
	if err != nil {
		return err
	}
	result := msg.(*protocol.JoinResult)
	if result.Status != protocol.StatusJoined {
		return w.rejected(StageJoin, result.Reason)
	}
	_ = conn.SetReadDeadline(time.Time{})

	w.log.Info(fmt.Sprintf("Joined the cluster at %s", w.masterAddr(wc.MasterPort)))
	s["joined"] = true
	return p.Next()
}

// expect reads messages until one with header h arrives. Notices received in
// the meantime are logged.
func (w *Worker) expect(conn *protocol.Conn, h protocol.Header) (protocol.Message, error) {
	for {
		msg, err := conn.Receive(protocol.DecodeFromMaster)
		if err != nil {
			if protocol.IsDropped(err) {
				w.log.Debug("dropped message", zap.Error(err))
				continue
			}
			state := w.State()
			w.setState(StateDisconnected)
			return nil, fmt.Errorf("%w while %s: %v", ErrDisconnected, state, err)
		}
		switch m := msg.(type) {
		case *protocol.Notice:
			w.notice(m)
		case *protocol.Leave:
			w.setState(StateDisconnected)
			return nil, ErrDisconnected
		default:
			if msg.Kind() == h {
				return msg, nil
			}
			w.setState(StateDisconnected)
			return nil, fmt.Errorf("%w: %s, expected %s", ErrUnexpectedMessage, msg.Kind(), h)
		}
	}
}

func (w *Worker) rejected(stage, reason string) error {
	w.setState(StateRejected)
	w.closeConn()
	err := &RejectedError{Stage: stage, Reason: reason}
	w.log.Error(err.Error())
	return err
}

func (w *Worker) notice(n *protocol.Notice) {
	w.log.Info(fmt.Sprintf("[master] %s", n.Body), zap.String("type", n.Type))
}

// fetchHandshake downloads the capture file from the file port and stores it
// at the configured capture path.
func (w *Worker) fetchHandshake(ctx context.Context) (pipeline.Storage, error) {
	wc := w.cfg.Worker
	w.setState(StateFetchingHandshake)

	conn, err := w.dial(ctx, wc.FilePort)
	if err != nil {
		return nil, fmt.Errorf("connect to file port: %w", err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(wc.JoinTimeout))
	if err := conn.WriteJSON(&protocol.FileRequest{Get: protocol.GetHandshake, Format: HandshakeFormat}); err != nil {
		return nil, fmt.Errorf("request handshake: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(wc.JoinTimeout))
	line, err := conn.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("read handshake header: %w", err)
	}
	resp, err := utils.FromJSONBytes[protocol.FileResponse](line)
	if err != nil {
		return nil, fmt.Errorf("read handshake header: %w", err)
	}
	if resp.Status != protocol.StatusOK {
		return nil, w.rejected(StageFetch, resp.Reason)
	}

	r := &deadlineReader{conn: conn, timeout: wc.JoinTimeout}
	if err := saveFile(wc.CapturePath, io.LimitReader(r, resp.Size), resp.Size); err != nil {
		return nil, err
	}
	w.log.Info(fmt.Sprintf("Handshake saved to %s (%d bytes)", wc.CapturePath, resp.Size))
	return pipeline.Storage{"capture_path": wc.CapturePath, "capture_size": resp.Size}, nil
}

// saveFile writes exactly size bytes from r to path through a temporary file
// in the same directory, so a partial transfer never replaces path.
func saveFile(path string, r io.Reader, size int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create capture file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("receive capture file: %w", err)
	}
	if n != size {
		return fmt.Errorf("receive capture file: got %d of %d bytes", n, size)
	}
	return os.Rename(tmp.Name(), path)
}

// deadlineReader refreshes the read deadline before every read.
type deadlineReader struct {
	conn    *protocol.Conn
	timeout time.Duration
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
		return 0, err
	}
	return r.conn.Reader().Read(p)
}
