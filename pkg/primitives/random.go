package primitives

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
)

var (
	randMu     sync.RWMutex
	randSource io.Reader = rand.Reader
)

// setRandomSource swaps the entropy source and returns a restore func.
func setRandomSource(r io.Reader) func() {
	randMu.Lock()
	prev := randSource
	randSource = r
	randMu.Unlock()
	return func() {
		randMu.Lock()
		randSource = prev
		randMu.Unlock()
	}
}

func randomReader() io.Reader {
	randMu.RLock()
	defer randMu.RUnlock()
	return randSource
}

// RandomBytes returns n bytes from the secure random source.
func RandomBytes(n int) ([]byte, error) { // A
	b := make([]byte, n)
	if _, err := io.ReadFull(randomReader(), b); err != nil {
		return nil, fmt.Errorf("%w: read random: %v", ErrCryptoUnavailable, err)
	}
	return b, nil
}
