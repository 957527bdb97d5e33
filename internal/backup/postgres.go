package backup

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strconv"
	"strings"

	gferrors "github.com/gameforge/gfops/internal/errors"
	"github.com/gameforge/gfops/pkg/exec"
)

// postgresDumpFile is the postgres artifact inside a backup set.
const postgresDumpFile = "postgres.sql.gz"

// dumpPostgres runs pg_dump through the executor and gzip-compresses
// the output. The password travels through PGPASSWORD in the child
// environment, never argv.
func (r *Runner) dumpPostgres(ctx context.Context, setDir string) (string, error) {
	pg := r.cfg.Postgres
	host := pg.Host
	if host == "" {
		host = "localhost"
	}
	port := pg.Port
	if port == 0 {
		port = 5432
	}
	user := pg.User
	if user == "" {
		user = "postgres"
	}

	password, err := r.store.ReadKVField(ctx, r.environment+"/database/admin#password")
	if err != nil {
		return "", fmt.Errorf("resolve postgres password: %w", err)
	}

	stdout, stderr, err := r.executor.ExecuteWith(ctx, exec.Spec{
		Name: "pg_dump",
		Args: []string{
			"--host", host,
			"--port", strconv.Itoa(port),
			"--username", user,
			"--dbname", pg.Database,
			"--no-password",
		},
		Env: []string{"PGPASSWORD=" + password},
	})
	if err != nil {
		if errors.Is(err, osexec.ErrNotFound) {
			return "", gferrors.WrapCommandNotFound("pg_dump", err)
		}
		return "", gferrors.CommandError{
			Command:  "pg_dump",
			ExitCode: exec.ExitCode(err),
			Stderr:   strings.TrimSpace(string(stderr)),
			Err:      err,
		}
	}

	path := filepath.Join(setDir, postgresDumpFile)
	if err := writeGzip(path, stdout); err != nil {
		return "", err
	}
	return postgresDumpFile, nil
}

// writeGzip writes data gzip-compressed to path with 0600 permissions.
func writeGzip(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}

	gz := gzip.NewWriter(f)
	_, werr := gz.Write(data)
	cerr := gz.Close()
	ferr := f.Close()
	for _, err := range []error{werr, cerr, ferr} {
		if err != nil {
			return fmt.Errorf("write %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}
