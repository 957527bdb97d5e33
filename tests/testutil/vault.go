package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gferrors "github.com/gameforge/gfops/internal/errors"
)

// FakeVault is an in-memory vault.Store for tests. Every write appends
// a new version like KV v2 does.
type FakeVault struct {
	mu       sync.Mutex
	versions map[string][]map[string]interface{}

	// ReadErr / WriteErr force failures when set.
	ReadErr  error
	WriteErr error
}

// NewFakeVault creates an empty fake store.
func NewFakeVault() *FakeVault {
	return &FakeVault{versions: make(map[string][]map[string]interface{})}
}

// Seed stores data as the newest version of path.
func (f *FakeVault) Seed(path string, data map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions[path] = append(f.versions[path], data)
}

func (f *FakeVault) notFound(path string) error {
	return gferrors.VaultError{Op: "kv read", Path: path, StatusCode: 404}
}

// ReadKV implements vault.Store.
func (f *FakeVault) ReadKV(_ context.Context, path string) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	versions := f.versions[path]
	if len(versions) == 0 {
		return nil, f.notFound(path)
	}
	return versions[len(versions)-1], nil
}

// ReadKVField implements vault.Store.
func (f *FakeVault) ReadKVField(ctx context.Context, ref string) (string, error) {
	path, field, _ := strings.Cut(ref, "#")
	data, err := f.ReadKV(ctx, path)
	if err != nil {
		return "", err
	}
	if field == "" {
		if len(data) != 1 {
			return "", fmt.Errorf("secret %s has %d fields, reference one with #field", path, len(data))
		}
		for _, v := range data {
			return fmt.Sprintf("%v", v), nil
		}
	}
	value, ok := data[field]
	if !ok {
		return "", f.notFound(ref)
	}
	return fmt.Sprintf("%v", value), nil
}

// ReadKVVersion implements vault.Store.
func (f *FakeVault) ReadKVVersion(_ context.Context, path string, version int) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	versions := f.versions[path]
	if version < 1 || version > len(versions) {
		return nil, f.notFound(path)
	}
	return versions[version-1], nil
}

// WriteKV implements vault.Store.
func (f *FakeVault) WriteKV(_ context.Context, path string, data map[string]interface{}) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteErr != nil {
		return 0, f.WriteErr
	}
	f.versions[path] = append(f.versions[path], data)
	return len(f.versions[path]), nil
}

// TokenCreateOrphan implements vault.Store.
func (f *FakeVault) TokenCreateOrphan(context.Context, []string, time.Duration) (string, string, error) {
	return "hvs.fake-token", "fake-accessor", nil
}

// TokenLookup implements vault.Store.
func (f *FakeVault) TokenLookup(context.Context, string) ([]string, error) {
	return []string{"root"}, nil
}

// RevokeAccessor implements vault.Store.
func (f *FakeVault) RevokeAccessor(context.Context, string) error { return nil }

// Health implements vault.Store.
func (f *FakeVault) Health(context.Context) (bool, bool, error) { return true, false, nil }
