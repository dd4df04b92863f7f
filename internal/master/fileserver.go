package master

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"yqhp/cherry/internal/protocol"
	"yqhp/cherry/pkg/utils"
)

// ChunkSize is the unit of a file transfer; every chunk gets a fresh write
// deadline.
const ChunkSize = 32 * 1024

// FileServer serves the capture file on the file-distribution port.
//
// A request is a single line {"get": "handshake"}. The reply is a header line
// {"header":"file","status":"ok","size":N} followed by exactly N raw bytes,
// after which the connection is closed.
type FileServer struct {
	capturePath string
	timeout     time.Duration
	log         *zap.Logger

	wg sync.WaitGroup
}

// NewFileServer creates a file server for the capture file at capturePath.
// timeout bounds reading the request and writing each chunk.
func NewFileServer(capturePath string, timeout time.Duration, log *zap.Logger) *FileServer {
	return &FileServer{capturePath: capturePath, timeout: timeout, log: log}
}

// Serve accepts connections on ln until it is closed.
func (f *FileServer) Serve(ctx context.Context, ln net.Listener) error {
	for {
		raw, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		f.wg.Add(1)
		utils.SafeGo(f.log, "file-conn", func() {
			defer f.wg.Done()
			f.handle(protocol.NewConn(raw))
		})
	}
}

// Wait blocks until all transfers have returned.
func (f *FileServer) Wait() {
	f.wg.Wait()
}

func (f *FileServer) handle(conn *protocol.Conn) {
	defer conn.Close()
	log := f.log.With(zap.String("ip", conn.RemoteIP()))

	_ = conn.SetReadDeadline(time.Now().Add(f.timeout))
	var req protocol.FileRequest
	if err := conn.ReadJSON(&req); err != nil {
		log.Debug("bad file request", zap.Error(err))
		f.reject(conn, protocol.ReasonUnknownRequest)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch req.Get {
	case protocol.GetHandshake:
		if err := f.sendFile(conn, f.capturePath); err != nil {
			log.Warn("handshake transfer failed", zap.Error(err))
			return
		}
		log.Debug(fmt.Sprintf("Handshake sent to %s", conn.RemoteIP()))
	case protocol.GetDictionary:
		f.reject(conn, protocol.ReasonNotSupported)
	default:
		log.Debug("unknown file request", zap.String("get", req.Get))
		f.reject(conn, protocol.ReasonUnknownRequest)
	}
}

func (f *FileServer) reject(conn *protocol.Conn, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(f.timeout))
	_ = conn.WriteJSON(&protocol.FileResponse{
		Header: protocol.HeaderFile,
		Status: protocol.StatusRejected,
		Reason: reason,
	})
}

func (f *FileServer) sendFile(conn *protocol.Conn, path string) error {
	file, err := os.Open(path)
	if err != nil {
		f.reject(conn, protocol.ReasonFileUnavailable)
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || !info.Mode().IsRegular() {
		f.reject(conn, protocol.ReasonFileUnavailable)
		if err == nil {
			err = fmt.Errorf("%s: not a file", path)
		}
		return err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(f.timeout))
	if err := conn.WriteJSON(&protocol.FileResponse{
		Header: protocol.HeaderFile,
		Status: protocol.StatusOK,
		Size:   info.Size(),
	}); err != nil {
		return err
	}

	w := &deadlineWriter{conn: conn, timeout: f.timeout}
	n, err := io.CopyBuffer(w, io.LimitReader(file, info.Size()), make([]byte, ChunkSize))
	if err != nil {
		return err
	}
	if n != info.Size() {
		return fmt.Errorf("%s changed during transfer: sent %d of %d bytes", path, n, info.Size())
	}
	return nil
}

// deadlineWriter refreshes the write deadline before every chunk so a stalled
// reader fails the transfer instead of holding it open.
type deadlineWriter struct {
	conn    *protocol.Conn
	timeout time.Duration
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return 0, err
	}
	return w.conn.Write(p)
}
