package ddp

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// idAlphabet is the 55-character unambiguous alphabet DDP client ids are
// drawn from: digits and letters that are easy to tell apart visually
// (no 0/O/1/l/I).
const idAlphabet = "23456789ABCDEFGHJKLMNPQRSTWXYZabcdefghijkmnopqrstuvwxyz"

// idLength is the length of a generated id.
const idLength = 17

var alphabetSize = big.NewInt(int64(len(idAlphabet)))

// RandomIDSource generates uniformly random 17-character ids from
// idAlphabet using a cryptographic random source. It can only fail at
// construction (when the OS random source is unavailable); once
// constructed, ID never fails.
type RandomIDSource struct{}

// NewRandomIDSource constructs a RandomIDSource, performing a one-time
// self-test read from the OS random source. After this succeeds, ID is
// guaranteed never to fail.
func NewRandomIDSource() (*RandomIDSource, error) {
	probe := make([]byte, 1)
	if _, err := rand.Read(probe); err != nil {
		return nil, fmt.Errorf("ddp: random source unavailable: %w", err)
	}
	return &RandomIDSource{}, nil
}

// ID returns a fresh 17-character id drawn uniformly from idAlphabet.
func (s *RandomIDSource) ID() string {
	out := make([]byte, idLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			// NewRandomIDSource already confirmed the OS random source
			// works; a failure here means it has gone away mid-process,
			// which is an environment invariant violation we can't
			// recover from locally.
			panic(fmt.Sprintf("ddp: random source failed after construction: %v", err))
		}
		out[i] = idAlphabet[n.Int64()]
	}
	return string(out)
}
