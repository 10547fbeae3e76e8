// Package codemint generates unique, unambiguous 4-character invite
// codes, per spec.md §4.1.
package codemint

import (
	"crypto/rand"
	"errors"
	"sync/atomic"
)

// Alphabet excludes I, O, 0, 1 so codes read unambiguously over
// phone/voice, per spec.md §3.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const maxAttempts = 10

// fallbackCounter is a monotonic, process-lifetime counter used once the
// random draw collides maxAttempts times in a row. It is never reset, so
// two fallback codes minted by the same process can never collide with
// each other.
var fallbackCounter uint64

// Mint draws a length-char code from Alphabet, retrying on collision
// against existing up to maxAttempts times. On exhaustion it falls back
// to deterministic codes derived from fallbackCounter, advancing the
// counter past any code already in existing. The returned code is never
// in existing; the caller (LobbyRegistry) passes every live lobby's code
// and holds its index lock from Mint until the new code is indexed.
// Returns an error only if every code of this length is taken.
func Mint(length int, existing map[string]struct{}) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := randomCode(length)
		if err != nil {
			return "", err
		}
		if _, collides := existing[code]; !collides {
			return code, nil
		}
	}
	// Consecutive counter values map to distinct codes, so len(existing)+1
	// draws always step past every taken code unless none is free.
	for i := 0; i <= len(existing); i++ {
		code := fallbackCode(length)
		if _, collides := existing[code]; !collides {
			return code, nil
		}
	}
	return "", errors.New("codemint: no free code of this length")
}

func randomCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(out), nil
}

// fallbackCode maps the low bits of a monotonic counter onto Alphabet,
// padding/truncating to length.
func fallbackCode(length int) string {
	n := atomic.AddUint64(&fallbackCounter, 1)
	out := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		out[i] = Alphabet[n%uint64(len(Alphabet))]
		n /= uint64(len(Alphabet))
	}
	return string(out)
}
