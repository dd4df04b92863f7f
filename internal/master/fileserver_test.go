package master

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yqhp/cherry/internal/protocol"
)

func startFileServer(t *testing.T, capturePath string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fs := NewFileServer(capturePath, 2*time.Second, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = fs.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
		<-done
		fs.Wait()
	})
	return ln.Addr().String()
}

func requestFile(t *testing.T, addr, get string) (*protocol.FileResponse, []byte) {
	t.Helper()
	conn, err := protocol.Dial("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	require.NoError(t, conn.WriteJSON(&protocol.FileRequest{Get: get}))

	var resp protocol.FileResponse
	require.NoError(t, conn.ReadJSON(&resp))
	if resp.Status != protocol.StatusOK {
		return &resp, nil
	}
	body, err := io.ReadAll(io.LimitReader(conn.Reader(), resp.Size))
	require.NoError(t, err)
	return &resp, body
}

func TestFileServerSendsHandshake(t *testing.T) {
	// larger than one chunk so the transfer spans several writes
	payload := bytes.Repeat([]byte{0xd4, 0xc3, 0xb2, 0xa1}, ChunkSize/2+17)
	path := filepath.Join(t.TempDir(), "capture.cap")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	addr := startFileServer(t, path)
	resp, body := requestFile(t, addr, protocol.GetHandshake)

	assert.Equal(t, protocol.HeaderFile, resp.Header)
	assert.Equal(t, protocol.StatusOK, resp.Status)
	assert.Equal(t, int64(len(payload)), resp.Size)
	assert.Equal(t, payload, body)
}

func TestFileServerEmptyCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.cap")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	resp, body := requestFile(t, startFileServer(t, path), protocol.GetHandshake)
	assert.Equal(t, protocol.StatusOK, resp.Status)
	assert.Equal(t, int64(0), resp.Size)
	assert.Empty(t, body)
}

func TestFileServerDictionaryNotSupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.cap")
	require.NoError(t, os.WriteFile(path, []byte("cap"), 0o644))

	resp, _ := requestFile(t, startFileServer(t, path), protocol.GetDictionary)
	assert.Equal(t, protocol.StatusRejected, resp.Status)
	assert.Equal(t, protocol.ReasonNotSupported, resp.Reason)
}

func TestFileServerUnknownRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.cap")
	require.NoError(t, os.WriteFile(path, []byte("cap"), 0o644))

	resp, _ := requestFile(t, startFileServer(t, path), "passwords")
	assert.Equal(t, protocol.StatusRejected, resp.Status)
	assert.Equal(t, protocol.ReasonUnknownRequest, resp.Reason)
}

func TestFileServerMalformedRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.cap")
	require.NoError(t, os.WriteFile(path, []byte("cap"), 0o644))
	addr := startFileServer(t, path)

	conn, err := protocol.Dial("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, err = conn.Write([]byte("give me the file\n"))
	require.NoError(t, err)

	var resp protocol.FileResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, protocol.ReasonUnknownRequest, resp.Reason)
}

func TestFileServerMissingCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.cap")

	resp, _ := requestFile(t, startFileServer(t, path), protocol.GetHandshake)
	assert.Equal(t, protocol.StatusRejected, resp.Status)
	assert.Equal(t, protocol.ReasonFileUnavailable, resp.Reason)
}
