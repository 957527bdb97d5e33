package rotation

import (
	"context"
	"fmt"
	"sync"
	"time"

	gferrors "github.com/gameforge/gfops/internal/errors"
	"github.com/gameforge/gfops/internal/logging"
)

// fakeVault is an in-memory versioned KV plus token endpoints, enough
// to exercise every rotator without a Vault server.
type fakeVault struct {
	mu       sync.Mutex
	versions map[string][]map[string]interface{}

	tokenCounter int
	revoked      []string
	lookupErr    error
	writeErr     error
	readErr      error
	tokenErr     error
}

func newFakeVault() *fakeVault {
	return &fakeVault{versions: make(map[string][]map[string]interface{})}
}

func notFoundErr(path string) error {
	return gferrors.VaultError{Op: "read", Path: path, StatusCode: 404}
}

func (f *fakeVault) ReadKV(ctx context.Context, path string) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	vs := f.versions[path]
	if len(vs) == 0 {
		return nil, notFoundErr(path)
	}
	return copyData(vs[len(vs)-1]), nil
}

func (f *fakeVault) ReadKVField(ctx context.Context, ref string) (string, error) {
	path, field := ref, ""
	for i := 0; i < len(ref); i++ {
		if ref[i] == '#' {
			path, field = ref[:i], ref[i+1:]
			break
		}
	}
	data, err := f.ReadKV(ctx, path)
	if err != nil {
		return "", err
	}
	v, ok := data[field]
	if !ok {
		return "", notFoundErr(ref)
	}
	return fmt.Sprintf("%v", v), nil
}

func (f *fakeVault) ReadKVVersion(ctx context.Context, path string, version int) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vs := f.versions[path]
	if version < 1 || version > len(vs) {
		return nil, notFoundErr(path)
	}
	return copyData(vs[version-1]), nil
}

func (f *fakeVault) WriteKV(ctx context.Context, path string, data map[string]interface{}) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.versions[path] = append(f.versions[path], copyData(data))
	return len(f.versions[path]), nil
}

func (f *fakeVault) TokenCreateOrphan(ctx context.Context, policies []string, ttl time.Duration) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokenErr != nil {
		return "", "", f.tokenErr
	}
	f.tokenCounter++
	return fmt.Sprintf("hvs.token-%d", f.tokenCounter), fmt.Sprintf("accessor-%d", f.tokenCounter), nil
}

func (f *fakeVault) TokenLookup(ctx context.Context, token string) ([]string, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return []string{"root"}, nil
}

func (f *fakeVault) RevokeAccessor(ctx context.Context, accessor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, accessor)
	return nil
}

func (f *fakeVault) Health(ctx context.Context) (bool, bool, error) {
	return true, false, nil
}

func (f *fakeVault) latest(path string) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	vs := f.versions[path]
	if len(vs) == 0 {
		return nil
	}
	return copyData(vs[len(vs)-1])
}

func copyData(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// fakeRedis records CONFIG SET calls and enforces the password on dial.
type fakeRedis struct {
	mu       sync.Mutex
	password string
	sets     []string
	pingErr  error
}

type fakeRedisConn struct {
	server   *fakeRedis
	password string
}

func (s *fakeRedis) dialer() RedisDialer {
	return func(addr, password string) RedisConn {
		return &fakeRedisConn{server: s, password: password}
	}
}

func (c *fakeRedisConn) ConfigSet(ctx context.Context, parameter, value string) error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if c.password != c.server.password {
		return fmt.Errorf("NOAUTH Authentication required")
	}
	if parameter == "requirepass" {
		c.server.password = value
		c.server.sets = append(c.server.sets, value)
	}
	return nil
}

func (c *fakeRedisConn) Ping(ctx context.Context) error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if c.server.pingErr != nil {
		return c.server.pingErr
	}
	if c.password != c.server.password {
		return fmt.Errorf("NOAUTH Authentication required")
	}
	return nil
}

func (c *fakeRedisConn) Close() error { return nil }

// fakeRotator scripts outcomes for orchestrator tests.
type fakeRotator struct {
	secretType  SecretType
	rotateErr   error
	verifyErr   error
	rollbackErr error

	mu         sync.Mutex
	rotates    int
	verifies   int
	rollbacks  int
	lastReq    Request
}

func (f *fakeRotator) Type() SecretType { return f.secretType }

func (f *fakeRotator) Rotate(ctx context.Context, req Request) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotates++
	f.lastReq = req
	if f.rotateErr != nil {
		return nil, f.rotateErr
	}
	return &Result{
		Type:           f.secretType,
		SecretsRotated: []string{string(f.secretType) + "_secret"},
		VaultPath:      "test/" + string(f.secretType),
		Version:        1,
	}, nil
}

func (f *fakeRotator) Verify(ctx context.Context, res *Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifies++
	return f.verifyErr
}

func (f *fakeRotator) Rollback(ctx context.Context, res *Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbacks++
	return f.rollbackErr
}

func testLogger() *logging.Logger {
	return logging.New(false, true)
}
