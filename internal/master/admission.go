package master

import (
	"crypto/subtle"

	"yqhp/cherry/internal/dictionary"
	"yqhp/cherry/internal/protocol"
)

// Bounds of the speed a worker may report when joining, both exclusive.
const (
	MinJoinSpeed = 100
	MaxJoinSpeed = 1_000_000
)

// AdmissionPolicy decides whether a join request is accepted.
type AdmissionPolicy struct {
	MinVersion   int
	AsyncAllowed bool
	// Secret is the shared secret; empty disables authentication.
	Secret     string
	Dictionary *dictionary.Descriptor
}

// Secure reports whether joins must carry a secret digest.
func (p *AdmissionPolicy) Secure() bool {
	return p.Secret != ""
}

// Check validates req against the salt issued to the connection. It returns
// the rejection reason of the first failing check, or "" when req is admitted.
// Checks run in order: version, async, secret, dictionary, speed.
func (p *AdmissionPolicy) Check(salt int64, req *protocol.JoinRequest) string {
	if req.VersionNum < p.MinVersion {
		return protocol.ReasonVersion
	}
	if req.Async && !p.AsyncAllowed {
		return protocol.ReasonAsyncDisallowed
	}
	if p.Secure() {
		expected := protocol.AuthDigest(salt, p.Secret)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(req.Secret)) != 1 {
			return protocol.ReasonBadSecret
		}
	}
	if !req.Async && !p.Dictionary.Matches(req.DictionarySize, req.DictionaryChecksum) {
		return protocol.ReasonDictionaryChecksum
	}
	if !ValidJoinSpeed(req.Speed) {
		return protocol.ReasonWrongSpeed
	}
	return ""
}

// ValidJoinSpeed reports whether speed lies strictly between MinJoinSpeed and
// MaxJoinSpeed.
func ValidJoinSpeed(speed int64) bool {
	return speed > MinJoinSpeed && speed < MaxJoinSpeed
}
