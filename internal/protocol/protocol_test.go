package protocol

import (
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeStampsHeader(t *testing.T) {
	data, err := Encode(&EchoReport{Speed: 5000})
	require.NoError(t, err)
	assert.JSONEq(t, `{"header":"echo","speed":5000}`, string(data))

	data, err = Encode(Rejected(ReasonWrongSpeed))
	require.NoError(t, err)
	assert.JSONEq(t, `{"header":"join","status":"rejected","reason":"wrong-speed"}`, string(data))
}

func TestDecodeFromWorker(t *testing.T) {
	msg, err := DecodeFromWorker([]byte(`{"header":"join","version_num":1,"version_txt":"0.0.1-alpha",` +
		`"secret":"abc","async":false,"dictionary_size":1024,"dictionary_checksum":"deadbeef",` +
		`"speed":5000,"tool":{"name":"pyrit","version":"0.4.0"}}`))
	require.NoError(t, err)

	join, ok := msg.(*JoinRequest)
	require.True(t, ok)
	assert.Equal(t, 1, join.VersionNum)
	assert.Equal(t, "abc", join.Secret)
	assert.Equal(t, int64(1024), join.DictionarySize)
	assert.Equal(t, "deadbeef", join.DictionaryChecksum)
	assert.Equal(t, int64(5000), join.Speed)
	assert.Equal(t, "pyrit", join.Tool.Name)

	msg, err = DecodeFromWorker([]byte(`{"header":"echo","speed":7000}`))
	require.NoError(t, err)
	assert.Equal(t, int64(7000), msg.(*EchoReport).Speed)

	msg, err = DecodeFromWorker([]byte(`{"header":"event","event":"key_found","password":"hunter2"}`))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", msg.(*Event).Password)
}

func TestDecodeIsDirectionAware(t *testing.T) {
	line := []byte(`{"header":"echo","total_speed":9000,"speed":10}`)

	fromWorker, err := DecodeFromWorker(line)
	require.NoError(t, err)
	assert.IsType(t, &EchoReport{}, fromWorker)

	fromMaster, err := DecodeFromMaster(line)
	require.NoError(t, err)
	reply, ok := fromMaster.(*EchoReply)
	require.True(t, ok)
	assert.Equal(t, int64(9000), reply.TotalSpeed)

	// connect only ever flows from master to worker
	_, err = DecodeFromWorker([]byte(`{"header":"connect","status":"connected"}`))
	assert.ErrorIs(t, err, ErrUnknownHeader)
}

func TestDecodeMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"speed":5000}`,
		`{"header":"echo","speed":"fast"}`,
		`[]`,
	}
	for _, c := range cases {
		_, err := DecodeFromWorker([]byte(c))
		assert.ErrorIs(t, err, ErrMalformed, c)
	}
}

func TestConnSendReceive(t *testing.T) {
	a, b := net.Pipe()
	master := NewConn(a)
	worker := NewConn(b)
	defer master.Close()
	defer worker.Close()

	go func() {
		_ = master.Send(
			&Connect{Status: StatusConnected, VersionTxt: VersionTxt, VersionNum: VersionNum, Secure: true, Salt: 42},
			Log("Welcome to the cluster!"),
		)
	}()

	msg, err := worker.Receive(DecodeFromMaster)
	require.NoError(t, err)
	connect, ok := msg.(*Connect)
	require.True(t, ok)
	assert.Equal(t, StatusConnected, connect.Status)
	assert.True(t, connect.Secure)
	assert.Equal(t, int64(42), connect.Salt)

	msg, err = worker.Receive(DecodeFromMaster)
	require.NoError(t, err)
	assert.Equal(t, "Welcome to the cluster!", msg.(*Notice).Body)
}

func TestConnMalformedLineKeepsConnectionUsable(t *testing.T) {
	a, b := net.Pipe()
	sender := NewConn(a)
	receiver := NewConn(b)
	defer sender.Close()
	defer receiver.Close()

	go func() {
		_, _ = sender.Write([]byte("garbage\n\n"))
		_ = sender.Send(&Leave{})
	}()

	_, err := receiver.Receive(DecodeFromWorker)
	assert.ErrorIs(t, err, ErrMalformed)

	msg, err := receiver.Receive(DecodeFromWorker)
	require.NoError(t, err)
	assert.IsType(t, &Leave{}, msg)
}

func TestConnLineTooLong(t *testing.T) {
	a, b := net.Pipe()
	sender := NewConn(a)
	receiver := NewConn(b)
	defer sender.Close()
	defer receiver.Close()

	go func() {
		_, _ = sender.Write([]byte(strings.Repeat("x", MaxLineSize+10) + "\n"))
	}()

	_, err := receiver.ReadLine()
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestConnRawPayloadAfterHeader(t *testing.T) {
	a, b := net.Pipe()
	sender := NewConn(a)
	receiver := NewConn(b)
	defer receiver.Close()

	payload := []byte("HCPX\x00\x01binary")
	go func() {
		_ = sender.WriteJSON(&FileResponse{Header: HeaderFile, Status: StatusOK, Size: int64(len(payload))})
		_, _ = sender.Write(payload)
		_ = sender.Close()
	}()

	var resp FileResponse
	require.NoError(t, receiver.ReadJSON(&resp))
	assert.Equal(t, StatusOK, resp.Status)

	body, err := io.ReadAll(io.LimitReader(receiver.Reader(), resp.Size))
	require.NoError(t, err)
	assert.Equal(t, payload, body)
}

func TestConnWriteTimeoutClosesStalledPeer(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	conn := NewConn(a)
	conn.SetWriteTimeout(50 * time.Millisecond)

	err := conn.Send(Log("nobody is reading"))
	require.Error(t, err)
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
	assert.True(t, conn.Closed())
}

func TestConnWriteLineSharesEncoding(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	data, err := Encode(Log("hello"))
	require.NoError(t, err)
	before := string(data)

	sender := NewConn(a)
	go func() { _ = sender.WriteLine(data) }()

	msg, err := NewConn(b).Receive(DecodeFromMaster)
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.(*Notice).Body)
	assert.Equal(t, before, string(data))
}

func TestConnCloseIsIdempotent(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := NewConn(a)

	assert.False(t, c.Closed())
	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.True(t, c.Closed())

	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestAuthDigest(t *testing.T) {
	digest := AuthDigest(123456789, "s3cret")
	assert.Len(t, digest, 32)
	assert.Equal(t, digest, AuthDigest(123456789, "s3cret"))
	assert.NotEqual(t, digest, AuthDigest(123456789, "s3cre7"))
}

func TestDescribeReason(t *testing.T) {
	assert.Equal(t, "Incorrect master secret", DescribeReason(ReasonBadSecret))
	assert.Equal(t, "Workers count limited", DescribeReason(ReasonMaxNodes))
	assert.Equal(t, "Rejected: mystery", DescribeReason("mystery"))
}
