package backup

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gameforge/gfops/internal/audit"
)

// SetSummary is one local backup set for `gfops backup list`.
type SetSummary struct {
	Timestamp  string
	CreatedAt  time.Time
	Success    bool
	Components int
	SizeBytes  int64
}

// ListLocal lists the backup sets under the output directory, oldest
// first. Directories without a manifest are reported as failed sets.
func ListLocal(outputDir string) ([]SetSummary, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var sets []SetSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		created, err := time.Parse(setTimestampLayout, entry.Name())
		if err != nil {
			continue
		}

		summary := SetSummary{Timestamp: entry.Name(), CreatedAt: created.UTC()}
		manifest, err := ReadManifest(filepath.Join(outputDir, entry.Name()))
		if err == nil {
			summary.CreatedAt = manifest.CreatedAt
			summary.Success = manifest.Success
			summary.Components = len(manifest.Components)
			for _, component := range manifest.Components {
				summary.SizeBytes += component.SizeBytes
			}
		}
		sets = append(sets, summary)
	}

	sort.Slice(sets, func(i, j int) bool { return sets[i].Timestamp < sets[j].Timestamp })
	return sets, nil
}

// ReadManifest loads the manifest of one set directory.
func ReadManifest(setDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(setDir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &manifest, nil
}

// VerifyProblem is one discrepancy found while verifying a set.
type VerifyProblem struct {
	Component string
	Message   string
}

// VerifySet recomputes every component checksum against the manifest
// and integrity-reads compressed members.
func VerifySet(outputDir, timestamp string) ([]VerifyProblem, error) {
	setDir := filepath.Join(outputDir, timestamp)
	manifest, err := ReadManifest(setDir)
	if err != nil {
		return nil, err
	}

	var problems []VerifyProblem
	for _, component := range manifest.Components {
		if !component.Success {
			problems = append(problems, VerifyProblem{component.Name, "recorded as failed in manifest"})
			continue
		}

		path := filepath.Join(setDir, component.File)
		size, sum, err := fileSizeAndSHA256(path)
		if err != nil {
			problems = append(problems, VerifyProblem{component.Name, err.Error()})
			continue
		}
		if size != component.SizeBytes {
			problems = append(problems, VerifyProblem{component.Name,
				fmt.Sprintf("size mismatch: %d bytes on disk, manifest says %d", size, component.SizeBytes)})
		}
		if sum != component.SHA256 {
			problems = append(problems, VerifyProblem{component.Name, "checksum mismatch"})
		}
		if strings.HasSuffix(component.File, ".gz") {
			if err := verifyGzip(path); err != nil {
				problems = append(problems, VerifyProblem{component.Name, "gzip integrity: " + err.Error()})
			}
		}
	}
	return problems, nil
}

// PruneResult reports what a prune pass removed.
type PruneResult struct {
	Local  []string
	Remote []string
}

// Prune deletes local sets (and, with an uploader, S3 sets) older than
// the retention window.
func (r *Runner) Prune(ctx context.Context, dryRun bool) (*PruneResult, error) {
	retention := r.cfg.RetentionDays
	if retention <= 0 {
		retention = DefaultRetentionDays
	}
	cutoff := r.now().UTC().AddDate(0, 0, -retention)

	sets, err := ListLocal(r.cfg.OutputDir)
	if err != nil {
		return nil, err
	}

	result := &PruneResult{}
	for _, set := range sets {
		if !set.CreatedAt.Before(cutoff) {
			continue
		}
		if !dryRun {
			if err := os.RemoveAll(filepath.Join(r.cfg.OutputDir, set.Timestamp)); err != nil {
				return result, fmt.Errorf("delete set %s: %w", set.Timestamp, err)
			}
		}
		result.Local = append(result.Local, set.Timestamp)
	}

	if r.uploader != nil {
		remote, err := r.uploader.PruneBefore(ctx, r.environment, cutoff, dryRun)
		result.Remote = remote
		if err != nil {
			return result, err
		}
	}

	if !dryRun && (len(result.Local) > 0 || len(result.Remote) > 0) {
		event := audit.NewEvent(audit.TypeBackup, audit.SeverityLow, r.environment, "prune",
			fmt.Sprintf("retention %dd", retention), "success")
		event.Details = map[string]string{
			"local_deleted":  strings.Join(result.Local, ","),
			"remote_deleted": strings.Join(result.Remote, ","),
		}
		r.auditor.Record(ctx, event)
	}
	return result, nil
}

// fileSizeAndSHA256 streams the file once for both size and checksum.
func fileSizeAndSHA256(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, f)
	if err != nil {
		return 0, "", fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return size, hex.EncodeToString(hash.Sum(nil)), nil
}

// verifyGzip fully reads the compressed stream so a truncated or
// corrupted member fails loudly.
func verifyGzip(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	_, err = io.Copy(io.Discard, gz)
	return err
}
