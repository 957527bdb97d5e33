package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/gameforge/gfops/internal/vault"
)

// redisDumpFile is the redis artifact inside a backup set.
const redisDumpFile = "redis.rdb"

// bgsaveTimeout bounds how long we wait for Redis to finish a BGSAVE.
const bgsaveTimeout = 60 * time.Second

// RedisBackupConn is the Redis surface the dump needs.
type RedisBackupConn interface {
	BgSave(ctx context.Context) (string, error)
	LastSave(ctx context.Context) (int64, error)
	Close() error
}

// RedisDialer opens a Redis connection; tests substitute a fake.
type RedisDialer func(addr, password string) RedisBackupConn

// DialBackupRedis is the production dialer over go-redis.
func DialBackupRedis(addr, password string) RedisBackupConn {
	return &goRedisBackupConn{client: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

type goRedisBackupConn struct {
	client *redis.Client
}

func (c *goRedisBackupConn) BgSave(ctx context.Context) (string, error) {
	return c.client.BgSave(ctx).Result()
}

func (c *goRedisBackupConn) LastSave(ctx context.Context) (int64, error) {
	return c.client.LastSave(ctx).Result()
}

func (c *goRedisBackupConn) Close() error { return c.client.Close() }

// dumpRedis triggers BGSAVE, waits for LASTSAVE to advance, then copies
// the dump file configured in backup.redis_dump_path into the set.
func (r *Runner) dumpRedis(ctx context.Context, setDir string) (string, error) {
	if r.cfg.RedisDumpPath == "" {
		return "", fmt.Errorf("backup.redis_dump_path is not configured")
	}

	// Redis may run without auth in development; a missing secret is
	// fine, any other Vault failure is not.
	password, err := r.store.ReadKVField(ctx, r.environment+"/internal/redis#password")
	if err != nil && !vault.IsNotFound(err) {
		return "", fmt.Errorf("resolve redis password: %w", err)
	}

	conn := r.redisDial(r.cfg.RedisAddr, password)
	defer func() { _ = conn.Close() }()

	before, err := conn.LastSave(ctx)
	if err != nil {
		return "", fmt.Errorf("redis LASTSAVE: %w", err)
	}
	if _, err := conn.BgSave(ctx); err != nil {
		return "", fmt.Errorf("redis BGSAVE: %w", err)
	}

	deadline := r.now().Add(bgsaveTimeout)
	for {
		after, err := conn.LastSave(ctx)
		if err != nil {
			return "", fmt.Errorf("redis LASTSAVE: %w", err)
		}
		if after > before {
			break
		}
		if r.now().After(deadline) {
			return "", fmt.Errorf("redis BGSAVE did not finish within %s", bgsaveTimeout)
		}
		if err := r.sleep(ctx, 500*time.Millisecond); err != nil {
			return "", err
		}
	}

	if err := copyFile(r.cfg.RedisDumpPath, filepath.Join(setDir, redisDumpFile)); err != nil {
		return "", err
	}
	return redisDumpFile, nil
}

// copyFile copies src to dst with 0600 permissions.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open redis dump: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(dst), err)
	}

	_, cerr := io.Copy(out, in)
	ferr := out.Close()
	if cerr != nil {
		return fmt.Errorf("copy redis dump: %w", cerr)
	}
	if ferr != nil {
		return fmt.Errorf("copy redis dump: %w", ferr)
	}
	return nil
}
