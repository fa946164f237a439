// Package runfs owns the on-disk layout of a run and the write discipline
// for its artifacts. Artifacts are written atomically (temp file, fsync,
// rename) so readers never observe a partial file, and input copies are
// idempotent so re-running a step cannot clobber what a previous step saved.
package runfs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// Paths locates everything inside one run directory.
type Paths struct {
	Root  string // runs root, e.g. "runs"
	RunID string
}

func (p Paths) RunDir() string        { return filepath.Join(p.Root, p.RunID) }
func (p Paths) InputDir() string      { return filepath.Join(p.RunDir(), "input") }
func (p Paths) RequestFile() string   { return filepath.Join(p.InputDir(), "request.json") }
func (p Paths) TargetDocsDir() string { return filepath.Join(p.InputDir(), "target_docs") }
func (p Paths) InputDocsDir() string  { return filepath.Join(p.InputDir(), "input_docs") }
func (p Paths) ArtifactsDir() string  { return filepath.Join(p.RunDir(), "artifacts") }
func (p Paths) TraceFile() string     { return filepath.Join(p.RunDir(), "trace", "trace.jsonl") }

// Artifact returns the path of a named artifact, e.g. "candidates.json".
func (p Paths) Artifact(name string) string {
	return filepath.Join(p.ArtifactsDir(), name)
}

// NewRunID returns a sortable run id: a UTC second timestamp plus a short
// random suffix to keep concurrent runs distinct.
func NewRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return now.UTC().Format("2006-01-02T15-04-05Z") + "_" + suffix
}

// CreateRun makes the run directory tree and returns its paths.
func CreateRun(root, runID string) (Paths, error) {
	p := Paths{Root: root, RunID: runID}
	for _, dir := range []string{
		p.InputDir(),
		p.TargetDocsDir(),
		p.InputDocsDir(),
		p.ArtifactsDir(),
		filepath.Dir(p.TraceFile()),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Paths{}, fmt.Errorf("creating run dir %s: %w", dir, err)
		}
	}
	return p, nil
}

// WriteJSONAtomic marshals v with two-space indent and writes it to path
// via a temp file in the same directory, fsync, then rename.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// CopyFileIdempotent copies src into dstDir under its sanitized base name.
// An existing destination is left untouched. Returns the destination path.
func CopyFileIdempotent(src, dstDir string) (string, error) {
	name, err := SanitizeFilename(filepath.Base(src))
	if err != nil {
		return "", err
	}
	dst := filepath.Join(dstDir, name)
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.CreateTemp(dstDir, "."+name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := out.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("copying %s: %w", src, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return "", fmt.Errorf("syncing copy: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("closing copy: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", fmt.Errorf("renaming copy into place: %w", err)
	}
	return dst, nil
}

// SanitizeFilename strips any directory components and rejects names that
// are empty or pure dots. Remaining ".." sequences are replaced.
func SanitizeFilename(name string) (string, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid filename %q", name)
	}
	name = strings.ReplaceAll(name, "..", "_")
	return name, nil
}

// SHA256File returns the lowercase hex digest of a file's contents.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CanonicalDigest returns the SHA-256 of a JSON artifact's canonical form
// (RFC 8785). Two artifacts with the same content hash identically
// regardless of whitespace or key order.
func CanonicalDigest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	canon, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("canonicalizing %s: %w", path, err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
