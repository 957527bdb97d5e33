package rotation

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/gameforge/gfops/internal/logging"
	"github.com/gameforge/gfops/internal/secure"
	"github.com/gameforge/gfops/internal/vault"
)

// databasePasswordLength is the length of generated role passwords.
const databasePasswordLength = 32

// SQLOpener opens a database handle. Tests substitute sqlmock.
type SQLOpener func(driver, dsn string) (*sql.DB, error)

// DatabaseRotator rotates the passwords of the configured database
// roles: ALTER the role through the admin connection, prove the new
// password by connecting as the role, and store it under
// <env>/database/<role>.
type DatabaseRotator struct {
	store  vault.Store
	driver string
	dsn    string
	users  []string
	open   SQLOpener
	logger *logging.Logger
	now    func() time.Time
}

// NewDatabaseRotator creates the role password rotator. An empty driver
// defaults to postgres.
func NewDatabaseRotator(store vault.Store, driver, dsn string, users []string, logger *logging.Logger) *DatabaseRotator {
	if driver == "" {
		driver = "postgres"
	}
	return &DatabaseRotator{
		store:  store,
		driver: driver,
		dsn:    dsn,
		users:  users,
		open:   func(driver, dsn string) (*sql.DB, error) { return sql.Open(driver, dsn) },
		logger: logger,
		now:    time.Now,
	}
}

// Type implements Rotator.
func (r *DatabaseRotator) Type() SecretType {
	return TypeDatabase
}

// dbRole is the per-role rollback and verification state.
type dbRole struct {
	user        string
	path        string
	newPassword *secure.Buffer
	oldPassword *secure.Buffer
	prevVersion int
}

type dbCarry struct {
	roles []*dbRole
}

func (c *dbCarry) destroy() {
	for _, role := range c.roles {
		role.newPassword.Destroy()
		role.oldPassword.Destroy()
	}
}

// Rotate alters every configured role in turn. A failure mid-list stops
// the rotation; roles already altered are restored by Rollback.
func (r *DatabaseRotator) Rotate(ctx context.Context, req Request) (*Result, error) {
	if len(r.users) == 0 {
		return nil, fmt.Errorf("no database roles configured (rotation.database.rotate_users)")
	}
	if r.dsn == "" {
		return nil, fmt.Errorf("no admin DSN configured (rotation.database.dsn)")
	}

	adminDSN, err := r.adminDSN(ctx, req.Environment)
	if err != nil {
		return nil, err
	}

	db, err := r.open(r.driver, adminDSN)
	if err != nil {
		return nil, fmt.Errorf("open admin connection: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database as admin: %w", err)
	}

	carry := &dbCarry{}
	var rotated []string
	var lastPath string
	var lastVersion int

	for _, user := range r.users {
		role := &dbRole{user: user, path: kvPath(req.Environment, "database", user)}

		oldPassword := ""
		if data, kvErr := r.store.ReadKV(ctx, role.path); kvErr == nil {
			oldPassword, _ = data["password"].(string)
		} else if !vault.IsNotFound(kvErr) {
			carry.destroy()
			return nil, fmt.Errorf("read current password for role %s: %w", user, kvErr)
		}
		role.oldPassword = secure.NewBuffer([]byte(oldPassword))
		oldPassword = ""

		newPassword, genErr := GeneratePassword(databasePasswordLength)
		if genErr != nil {
			carry.destroy()
			return nil, fmt.Errorf("generate password for role %s: %w", user, genErr)
		}
		role.newPassword = secure.NewBuffer([]byte(newPassword))

		if err := r.alterPassword(ctx, db, user, newPassword); err != nil {
			role.newPassword.Destroy()
			role.oldPassword.Destroy()
			r.rollbackRoles(ctx, db, carry)
			carry.destroy()
			return nil, fmt.Errorf("alter role %s: %w", user, err)
		}
		carry.roles = append(carry.roles, role)

		version, kvErr := r.store.WriteKV(ctx, role.path, map[string]interface{}{
			"username":   user,
			"password":   newPassword,
			"rotated_at": rotatedAt(r.now()),
		})
		newPassword = ""
		if kvErr != nil {
			r.rollbackRoles(ctx, db, carry)
			carry.destroy()
			return nil, fmt.Errorf("store password for role %s: %w", user, kvErr)
		}
		if version > 1 {
			role.prevVersion = version - 1
		}
		rotated = append(rotated, user)
		lastPath = role.path
		lastVersion = version
	}

	return &Result{
		Type:           TypeDatabase,
		SecretsRotated: rotated,
		VaultPath:      lastPath,
		Version:        lastVersion,
		carry:          carry,
	}, nil
}

// Verify opens a fresh connection as each rotated role and pings.
func (r *DatabaseRotator) Verify(ctx context.Context, res *Result) error {
	carry, ok := res.carry.(*dbCarry)
	if !ok {
		return fmt.Errorf("database rotation result carries no role state")
	}

	for _, role := range carry.roles {
		err := role.newPassword.WithBytes(func(password []byte) error {
			dsn, dsnErr := roleDSN(r.driver, r.dsn, role.user, string(password))
			if dsnErr != nil {
				return dsnErr
			}
			db, openErr := r.open(r.driver, dsn)
			if openErr != nil {
				return openErr
			}
			defer func() { _ = db.Close() }()
			return db.PingContext(ctx)
		})
		if err != nil {
			return fmt.Errorf("connect as role %s with new password: %w", role.user, err)
		}
	}

	carry.destroy()
	return nil
}

// Rollback restores every altered role to its previous password and
// points the KV records back at their prior versions.
func (r *DatabaseRotator) Rollback(ctx context.Context, res *Result) error {
	carry, ok := res.carry.(*dbCarry)
	if !ok {
		return fmt.Errorf("database rotation result carries no rollback state")
	}
	defer carry.destroy()

	adminDSN, err := r.adminDSN(ctx, "")
	if err != nil {
		adminDSN = r.dsn
	}
	db, err := r.open(r.driver, adminDSN)
	if err != nil {
		return fmt.Errorf("open admin connection for rollback: %w", err)
	}
	defer func() { _ = db.Close() }()

	var firstErr error
	r.rollbackRoles(ctx, db, carry)
	for _, role := range carry.roles {
		if role.prevVersion < 1 {
			continue
		}
		if err := restoreVersion(ctx, r.store, role.path, role.prevVersion); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// rollbackRoles sets every already-altered role back to its old
// password. Roles that never had one (first rotation) are left on the
// new password; there is nothing meaningful to restore.
func (r *DatabaseRotator) rollbackRoles(ctx context.Context, db *sql.DB, carry *dbCarry) {
	for _, role := range carry.roles {
		err := role.oldPassword.WithBytes(func(oldPw []byte) error {
			if len(oldPw) == 0 {
				return nil
			}
			return r.alterPassword(ctx, db, role.user, string(oldPw))
		})
		if err != nil {
			r.logger.Error("Could not restore password for role %s: %v", role.user, err)
		}
	}
}

// alterPassword issues the driver-specific ALTER statement. Generated
// passwords contain no quote characters, but values are still quoted
// through the driver helpers where the driver has them.
func (r *DatabaseRotator) alterPassword(ctx context.Context, db *sql.DB, user, password string) error {
	var stmt string
	switch r.driver {
	case "postgres":
		stmt = fmt.Sprintf("ALTER USER %s WITH PASSWORD %s",
			pq.QuoteIdentifier(user), pq.QuoteLiteral(password))
	case "mysql":
		stmt = fmt.Sprintf("ALTER USER '%s'@'%%' IDENTIFIED BY '%s'",
			strings.ReplaceAll(user, "'", "''"), strings.ReplaceAll(password, "'", "''"))
	default:
		return fmt.Errorf("unsupported driver %q", r.driver)
	}
	_, err := db.ExecContext(ctx, stmt)
	return err
}

// adminDSN injects the admin password from Vault when the configured DSN
// carries none. The config file never holds the password itself.
func (r *DatabaseRotator) adminDSN(ctx context.Context, environment string) (string, error) {
	switch r.driver {
	case "postgres":
		u, err := url.Parse(r.dsn)
		if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			// Not URL-form; use as-is (key=value DSNs carry their own password).
			return r.dsn, nil
		}
		if _, has := u.User.Password(); has || u.User == nil || environment == "" {
			return r.dsn, nil
		}
		password, err := r.store.ReadKVField(ctx, kvPath(environment, "database", "admin")+"#password")
		if err != nil {
			if vault.IsNotFound(err) {
				return r.dsn, nil
			}
			return "", fmt.Errorf("resolve admin password from vault: %w", err)
		}
		u.User = url.UserPassword(u.User.Username(), password)
		return u.String(), nil

	case "mysql":
		cfg, err := mysql.ParseDSN(r.dsn)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		if cfg.Passwd != "" || environment == "" {
			return r.dsn, nil
		}
		password, err := r.store.ReadKVField(ctx, kvPath(environment, "database", "admin")+"#password")
		if err != nil {
			if vault.IsNotFound(err) {
				return r.dsn, nil
			}
			return "", fmt.Errorf("resolve admin password from vault: %w", err)
		}
		cfg.Passwd = password
		return cfg.FormatDSN(), nil
	}
	return r.dsn, nil
}

// roleDSN rewrites the admin DSN to authenticate as user/password, used
// to verify a rotated role end to end.
func roleDSN(driver, adminDSN, user, password string) (string, error) {
	switch driver {
	case "postgres":
		u, err := url.Parse(adminDSN)
		if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			return "", fmt.Errorf("role verification needs a URL-form postgres DSN (postgres://...)")
		}
		u.User = url.UserPassword(user, password)
		return u.String(), nil
	case "mysql":
		cfg, err := mysql.ParseDSN(adminDSN)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.User = user
		cfg.Passwd = password
		return cfg.FormatDSN(), nil
	}
	return "", fmt.Errorf("unsupported driver %q", driver)
}
