package rotation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/gameforge/gfops/internal/logging"
	"github.com/gameforge/gfops/internal/secure"
	"github.com/gameforge/gfops/internal/vault"
)

// redisPasswordLength is the length of generated requirepass values.
const redisPasswordLength = 32

// RedisConn is the Redis surface the internal rotator needs. The real
// implementation wraps go-redis; tests substitute a fake.
type RedisConn interface {
	ConfigSet(ctx context.Context, parameter, value string) error
	Ping(ctx context.Context) error
	Close() error
}

// RedisDialer opens a connection to addr authenticated with password
// (empty for an unauthenticated instance).
type RedisDialer func(addr, password string) RedisConn

// DialRedis is the production dialer over go-redis.
func DialRedis(addr, password string) RedisConn {
	return &goRedisConn{client: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

type goRedisConn struct {
	client *redis.Client
}

func (c *goRedisConn) ConfigSet(ctx context.Context, parameter, value string) error {
	return c.client.ConfigSet(ctx, parameter, value).Err()
}

func (c *goRedisConn) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *goRedisConn) Close() error {
	return c.client.Close()
}

// InternalRotator rotates the Redis requirepass daily: set the new
// password live via CONFIG SET, prove it with an authenticated PING on a
// fresh connection, and record it in KV for the application to pick up.
//
// CONFIG SET does not survive a Redis restart on its own; the deployment
// renders requirepass into redis.conf from KV, so the stored value is
// authoritative.
type InternalRotator struct {
	store  vault.Store
	addr   string
	dial   RedisDialer
	logger *logging.Logger
	now    func() time.Time
}

// NewInternalRotator creates the Redis password rotator.
func NewInternalRotator(store vault.Store, addr string, logger *logging.Logger) *InternalRotator {
	return &InternalRotator{
		store:  store,
		addr:   addr,
		dial:   DialRedis,
		logger: logger,
		now:    time.Now,
	}
}

// Type implements Rotator.
func (r *InternalRotator) Type() SecretType {
	return TypeInternal
}

// redisCarry keeps both passwords in protected memory: the new one for
// verification, the old one so rollback can set it back.
type redisCarry struct {
	newPassword *secure.Buffer
	oldPassword *secure.Buffer
	prevVersion int
}

func (c *redisCarry) destroy() {
	c.newPassword.Destroy()
	c.oldPassword.Destroy()
}

// Rotate reads the current password from KV, generates a replacement,
// applies it live with CONFIG SET, and stores it under <env>/internal/redis.
func (r *InternalRotator) Rotate(ctx context.Context, req Request) (*Result, error) {
	if r.addr == "" {
		return nil, fmt.Errorf("no redis address configured (rotation.internal.redis_addr)")
	}
	path := kvPath(req.Environment, "internal", "redis")

	oldPassword := ""
	if data, err := r.store.ReadKV(ctx, path); err == nil {
		oldPassword, _ = data["password"].(string)
	} else if !vault.IsNotFound(err) {
		return nil, fmt.Errorf("read current redis password: %w", err)
	}

	newPassword, err := GeneratePassword(redisPasswordLength)
	if err != nil {
		return nil, fmt.Errorf("generate redis password: %w", err)
	}

	carry := &redisCarry{
		newPassword: secure.NewBuffer([]byte(newPassword)),
		oldPassword: secure.NewBuffer([]byte(oldPassword)),
	}

	conn := r.dial(r.addr, oldPassword)
	defer func() { _ = conn.Close() }()
	oldPassword = ""

	if err := conn.Ping(ctx); err != nil {
		carry.destroy()
		return nil, fmt.Errorf("connect to redis at %s: %w", r.addr, err)
	}
	if err := conn.ConfigSet(ctx, "requirepass", newPassword); err != nil {
		carry.destroy()
		return nil, fmt.Errorf("set redis requirepass: %w", err)
	}

	version, err := r.store.WriteKV(ctx, path, map[string]interface{}{
		"password":   newPassword,
		"addr":       r.addr,
		"rotated_at": rotatedAt(r.now()),
	})
	newPassword = ""
	if err != nil {
		// The live password already changed; put the old one back so the
		// instance and KV stay consistent.
		r.revertLive(ctx, carry)
		carry.destroy()
		return nil, fmt.Errorf("store redis password: %w", err)
	}
	if version > 1 {
		carry.prevVersion = version - 1
	}

	return &Result{
		Type:           TypeInternal,
		SecretsRotated: []string{"redis_password"},
		VaultPath:      path,
		Version:        version,
		carry:          carry,
	}, nil
}

// Verify dials a fresh connection with the new password and pings.
func (r *InternalRotator) Verify(ctx context.Context, res *Result) error {
	carry, ok := res.carry.(*redisCarry)
	if !ok {
		return fmt.Errorf("internal rotation result carries no password state")
	}

	err := carry.newPassword.WithBytes(func(password []byte) error {
		conn := r.dial(r.addr, string(password))
		defer func() { _ = conn.Close() }()
		return conn.Ping(ctx)
	})
	if err != nil {
		return fmt.Errorf("authenticated ping with new redis password: %w", err)
	}

	carry.destroy()
	return nil
}

// Rollback sets the old password back on the live instance and restores
// the previous KV version.
func (r *InternalRotator) Rollback(ctx context.Context, res *Result) error {
	carry, ok := res.carry.(*redisCarry)
	if !ok {
		return fmt.Errorf("internal rotation result carries no rollback state")
	}
	defer carry.destroy()

	r.revertLive(ctx, carry)

	if carry.prevVersion < 1 {
		r.logger.Warn("No previous redis password version to restore")
		return nil
	}
	return restoreVersion(ctx, r.store, res.VaultPath, carry.prevVersion)
}

// revertLive sets requirepass back to the old password, authenticating
// with the new one (the live instance already accepted it).
func (r *InternalRotator) revertLive(ctx context.Context, carry *redisCarry) {
	err := carry.newPassword.WithBytes(func(newPw []byte) error {
		return carry.oldPassword.WithBytes(func(oldPw []byte) error {
			conn := r.dial(r.addr, string(newPw))
			defer func() { _ = conn.Close() }()
			return conn.ConfigSet(ctx, "requirepass", string(oldPw))
		})
	})
	if err != nil {
		r.logger.Error("Could not revert live redis password: %v", err)
	}
}
