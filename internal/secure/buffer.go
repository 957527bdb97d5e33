// Package secure holds freshly generated secret material in protected
// memory while a rotation is in flight.
//
// It wraps memguard: values are encrypted at rest in memory, mlocked
// against swapping, and wiped on destruction. Rotators create a Buffer
// from the generated value, pass it around instead of a raw string, and
// destroy it once the value is stored in Vault.
package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Buffer is an encrypted in-memory container for one secret value.
type Buffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// NewBuffer seals data into protected memory. The caller should zero its
// own copy afterwards. Empty data is legal (the previous value of a
// first-ever rotation, an absent Vault field): memguard refuses
// zero-length enclaves, so the enclave stays nil and Open yields an
// empty locked buffer.
func NewBuffer(data []byte) *Buffer {
	if len(data) == 0 {
		return &Buffer{}
	}
	return &Buffer{enclave: memguard.NewEnclave(data)}
}

// Open decrypts the value into a locked buffer. The caller must call
// Destroy on the returned buffer when done. For an empty value, or after
// the Buffer itself has been destroyed, Open returns an empty locked
// buffer.
func (b *Buffer) Open() (*memguard.LockedBuffer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed || b.enclave == nil {
		return memguard.NewBufferFromBytes([]byte{}), nil
	}
	return b.enclave.Open()
}

// WithBytes opens the value, hands the plaintext to fn, and wipes the
// plaintext again when fn returns. The slice must not escape fn.
func (b *Buffer) WithBytes(fn func([]byte) error) error {
	locked, err := b.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()
	return fn(locked.Bytes())
}

// Destroy marks the buffer unusable. Idempotent. The encrypted enclave is
// dropped; full cleanup of all memguard memory happens via memguard.Purge
// at process exit.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.enclave = nil
	b.destroyed = true
}
