package master

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"yqhp/cherry/internal/dictionary"
	"yqhp/cherry/internal/protocol"
)

const testSalt = int64(424242)

func testPolicy() *AdmissionPolicy {
	return &AdmissionPolicy{
		MinVersion:   protocol.MinVersionNum,
		AsyncAllowed: true,
		Secret:       "s3cret",
		Dictionary:   &dictionary.Descriptor{Path: "words.txt", Size: 1024, Checksum: "deadbeef"},
	}
}

func goodRequest() *protocol.JoinRequest {
	return &protocol.JoinRequest{
		VersionNum:         protocol.VersionNum,
		VersionTxt:         protocol.VersionTxt,
		Secret:             protocol.AuthDigest(testSalt, "s3cret"),
		DictionarySize:     1024,
		DictionaryChecksum: "deadbeef",
		Speed:              5000,
		Tool:               protocol.Tool{Name: "pyrit", Version: "0.4.0"},
	}
}

func TestAdmissionCheck(t *testing.T) {
	tests := []struct {
		name   string
		policy func(p *AdmissionPolicy)
		req    func(r *protocol.JoinRequest)
		want   string
	}{
		{name: "admitted", want: ""},
		{
			name: "old version",
			req:  func(r *protocol.JoinRequest) { r.VersionNum = 0 },
			want: protocol.ReasonVersion,
		},
		{
			name:   "async disallowed",
			policy: func(p *AdmissionPolicy) { p.AsyncAllowed = false },
			req:    func(r *protocol.JoinRequest) { r.Async = true },
			want:   protocol.ReasonAsyncDisallowed,
		},
		{
			name: "bad secret",
			req:  func(r *protocol.JoinRequest) { r.Secret = protocol.AuthDigest(testSalt, "guess") },
			want: protocol.ReasonBadSecret,
		},
		{
			name: "secret digest for another salt",
			req:  func(r *protocol.JoinRequest) { r.Secret = protocol.AuthDigest(testSalt+1, "s3cret") },
			want: protocol.ReasonBadSecret,
		},
		{
			name:   "insecure master ignores secret",
			policy: func(p *AdmissionPolicy) { p.Secret = "" },
			req:    func(r *protocol.JoinRequest) { r.Secret = "" },
			want:   "",
		},
		{
			name: "dictionary checksum differs",
			req:  func(r *protocol.JoinRequest) { r.DictionaryChecksum = "cafebabe" },
			want: protocol.ReasonDictionaryChecksum,
		},
		{
			name: "dictionary size differs",
			req:  func(r *protocol.JoinRequest) { r.DictionarySize = 1023 },
			want: protocol.ReasonDictionaryChecksum,
		},
		{
			name: "async skips dictionary",
			req: func(r *protocol.JoinRequest) {
				r.Async = true
				r.DictionarySize = 0
				r.DictionaryChecksum = ""
			},
			want: "",
		},
		{
			name: "speed at lower bound",
			req:  func(r *protocol.JoinRequest) { r.Speed = MinJoinSpeed },
			want: protocol.ReasonWrongSpeed,
		},
		{
			name: "speed just above lower bound",
			req:  func(r *protocol.JoinRequest) { r.Speed = MinJoinSpeed + 1 },
			want: "",
		},
		{
			name: "speed at upper bound",
			req:  func(r *protocol.JoinRequest) { r.Speed = MaxJoinSpeed },
			want: protocol.ReasonWrongSpeed,
		},
		{
			name: "speed just below upper bound",
			req:  func(r *protocol.JoinRequest) { r.Speed = MaxJoinSpeed - 1 },
			want: "",
		},
		{
			name: "version checked before secret",
			req: func(r *protocol.JoinRequest) {
				r.VersionNum = 0
				r.Secret = "wrong"
			},
			want: protocol.ReasonVersion,
		},
		{
			name: "secret checked before dictionary",
			req: func(r *protocol.JoinRequest) {
				r.Secret = "wrong"
				r.DictionaryChecksum = "cafebabe"
			},
			want: protocol.ReasonBadSecret,
		},
		{
			name: "dictionary checked before speed",
			req: func(r *protocol.JoinRequest) {
				r.DictionaryChecksum = "cafebabe"
				r.Speed = 1
			},
			want: protocol.ReasonDictionaryChecksum,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := testPolicy()
			if tt.policy != nil {
				tt.policy(policy)
			}
			req := goodRequest()
			if tt.req != nil {
				tt.req(req)
			}
			assert.Equal(t, tt.want, policy.Check(testSalt, req))
		})
	}
}

func TestAdmissionWithoutDictionaryRejectsSync(t *testing.T) {
	policy := testPolicy()
	policy.Dictionary = nil
	assert.Equal(t, protocol.ReasonDictionaryChecksum, policy.Check(testSalt, goodRequest()))
}

// TestAdmittedSpeedProperty checks that no admitted request carries a speed
// outside the open join range.
func TestAdmittedSpeedProperty(t *testing.T) {
	policy := testPolicy()
	rapid.Check(t, func(rt *rapid.T) {
		req := goodRequest()
		req.Speed = rapid.Int64Range(-10, 2_000_000).Draw(rt, "speed")
		req.Async = rapid.Bool().Draw(rt, "async")

		reason := policy.Check(testSalt, req)
		admitted := reason == ""
		if admitted != ValidJoinSpeed(req.Speed) {
			rt.Fatalf("speed %d: reason %q", req.Speed, reason)
		}
		if admitted && (req.Speed <= MinJoinSpeed || req.Speed >= MaxJoinSpeed) {
			rt.Fatalf("admitted out-of-range speed %d", req.Speed)
		}
	})
}
