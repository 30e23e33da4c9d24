package outcome

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

// Rand is the randomness consumed by the resolver. *rand.Rand satisfies it.
type Rand interface {
	Int64N(n int64) int64
	IntN(n int) int
	Perm(n int) []int
}

// lockedRand serialises access to a *rand.Rand.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSource returns a goroutine-safe ChaCha8 generator seeded from the
// operating system's entropy source.
func NewSource() (Rand, error) {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, err
	}
	return &lockedRand{r: rand.New(rand.NewChaCha8(seed))}, nil
}

// NewSeeded returns a deterministic generator for tests and replays.
func NewSeeded(seed uint64) Rand {
	var s [32]byte
	binary.LittleEndian.PutUint64(s[:], seed)
	return &lockedRand{r: rand.New(rand.NewChaCha8(s))}
}

func (l *lockedRand) Int64N(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int64N(n)
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (l *lockedRand) Perm(n int) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Perm(n)
}
