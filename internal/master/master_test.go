package master

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yqhp/cherry/internal/config"
	"yqhp/cherry/internal/dictionary"
	"yqhp/cherry/internal/protocol"
)

func testMasterConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	dict := filepath.Join(dir, "words.txt")
	require.NoError(t, os.WriteFile(dict, []byte("password\nletmein\nhunter22\n"), 0o644))
	capture := filepath.Join(dir, "capture.cap")
	require.NoError(t, os.WriteFile(capture, []byte("HCPX capture"), 0o644))

	cfg := config.DefaultConfig()
	cfg.Master.Dictionary = dict
	cfg.Master.CaptureFile = capture
	cfg.Master.Secret = testSecret
	return cfg
}

func listeners(t *testing.T) (net.Listener, net.Listener) {
	t.Helper()
	join, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	file, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return join, file
}

func TestMasterStartStop(t *testing.T) {
	cfg := testMasterConfig(t)
	join, file := listeners(t)
	sink := &recordingSink{}

	m := New(cfg,
		WithLogger(zap.NewNop()),
		WithClock(clockwork.NewFakeClock()),
		WithSink(sink),
		WithListeners(join, file),
	)
	assert.Equal(t, StateStarting, m.State())

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	assert.Equal(t, StateRunning, m.State())

	status := m.Status()
	assert.True(t, status.Secure)
	assert.Equal(t, int64(len("HCPX capture")), status.Capture)
	require.NotNil(t, status.Dictionary)
	assert.Equal(t, int64(len("password\nletmein\nhunter22\n")), status.Dictionary.Size)

	// a worker with the same dictionary joins
	conn, err := protocol.Dial("tcp", m.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	msg, err := conn.Receive(protocol.DecodeFromMaster)
	require.NoError(t, err)
	ack := msg.(*protocol.Connect)

	require.NoError(t, conn.Send(&protocol.JoinRequest{
		VersionNum:         protocol.VersionNum,
		Secret:             protocol.AuthDigest(ack.Salt, testSecret),
		DictionarySize:     status.Dictionary.Size,
		DictionaryChecksum: status.Dictionary.Checksum,
		Speed:              4200,
	}))
	msg, err = conn.Receive(protocol.DecodeFromMaster)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusJoined, msg.(*protocol.JoinResult).Status)

	assert.Equal(t, 1, m.Status().Nodes)
	assert.Equal(t, int64(4200), m.ClusterMap().TotalSpeed)

	// welcome, then leave on shutdown
	_, err = conn.Receive(protocol.DecodeFromMaster)
	require.NoError(t, err)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(stopCtx))
	assert.Equal(t, StateStopped, m.State())

	msg, err = conn.Receive(protocol.DecodeFromMaster)
	require.NoError(t, err)
	assert.IsType(t, &protocol.Leave{}, msg)

	// stop is idempotent
	assert.NoError(t, m.Stop(stopCtx))
}

func TestMasterServesHandshake(t *testing.T) {
	cfg := testMasterConfig(t)
	join, file := listeners(t)
	m := New(cfg, WithListeners(join, file), WithClock(clockwork.NewFakeClock()))
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	resp, body := requestFile(t, m.FileAddr().String(), protocol.GetHandshake)
	assert.Equal(t, protocol.StatusOK, resp.Status)
	assert.Equal(t, []byte("HCPX capture"), body)
}

func TestMasterStartFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
	}{
		{
			name:   "missing dictionary",
			mutate: func(cfg *config.Config) { cfg.Master.Dictionary = filepath.Join(t.TempDir(), "none.txt") },
		},
		{
			name:   "missing capture",
			mutate: func(cfg *config.Config) { cfg.Master.CaptureFile = filepath.Join(t.TempDir(), "none.cap") },
		},
		{
			name:   "invalid port",
			mutate: func(cfg *config.Config) { cfg.Master.Port = 70000 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testMasterConfig(t)
			tt.mutate(cfg)
			join, file := listeners(t)

			m := New(cfg, WithListeners(join, file))
			require.Error(t, m.Start(context.Background()))
			assert.Equal(t, StateStarting, m.State())

			// listeners are released on failure
			_, err := join.Accept()
			assert.Error(t, err)
		})
	}
}

type fixedChecksummer string

func (f fixedChecksummer) Checksum(ctx context.Context, path string) (string, error) {
	return string(f), nil
}

func TestMasterUsesChecksummer(t *testing.T) {
	cfg := testMasterConfig(t)
	join, file := listeners(t)

	var sum dictionary.Checksummer = fixedChecksummer("abc123")
	m := New(cfg, WithListeners(join, file), WithChecksummer(sum), WithClock(clockwork.NewFakeClock()))
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	assert.Equal(t, "abc123", m.Status().Dictionary.Checksum)
}
