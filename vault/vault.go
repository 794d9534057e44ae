// Package vault is the file store that holds chains, screenshots and
// exports under a single evidence root.
//
// Two guarantees matter to callers: no reader ever observes a partially
// written file (writes go to a temp file, are fsynced, then renamed into
// place), and all writes to the same path are mutually exclusive (an
// exclusive flock on a per-path sidecar is held for the whole operation,
// including the read-modify-write cycle of Update). Concurrent access to
// different paths is independent.
package vault

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/hazyhaar/constat/garde"
)

// ErrNotFound is returned by Read when the path has no stored content. It
// aliases fs.ErrNotExist so callers holding only the Storage interface can
// test for absence without importing this package.
var ErrNotFound = fs.ErrNotExist

// Vault stores files under a root directory. All paths are relative to the
// root and validated against traversal before any filesystem access.
type Vault struct {
	root string
}

// New creates the root directory if needed and returns a Vault over it.
func New(root string) (*Vault, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("vault: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("vault: create root: %w", err)
	}
	return &Vault{root: abs}, nil
}

// Root returns the absolute evidence root directory.
func (v *Vault) Root() string { return v.root }

// Read returns the content stored at rel, or ErrNotFound.
// Reads take no lock: the rename-based write protocol means a concurrent
// reader sees either the previous or the new content, never a mix.
func (v *Vault) Read(rel string) ([]byte, error) {
	abs, err := v.resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("vault: read %s: %w", rel, ErrNotFound)
		}
		return nil, fmt.Errorf("vault: read %s: %w", rel, err)
	}
	return data, nil
}

// Write stores data at rel, replacing any previous content atomically.
func (v *Vault) Write(rel string, data []byte) error {
	abs, err := v.resolve(rel)
	if err != nil {
		return err
	}
	unlock, err := v.lock(abs)
	if err != nil {
		return fmt.Errorf("vault: lock %s: %w", rel, err)
	}
	defer unlock()
	if err := writeLocked(abs, data); err != nil {
		return fmt.Errorf("vault: write %s: %w", rel, err)
	}
	return nil
}

// Update runs a read-modify-write cycle on rel under the path lock.
// fn receives the current content (nil, found=false when absent) and
// returns the replacement bytes. If fn returns an error nothing is written
// and the error comes back to the caller unwrapped, so sentinel checks
// with errors.Is still work.
func (v *Vault) Update(rel string, fn func(old []byte, found bool) ([]byte, error)) error {
	abs, err := v.resolve(rel)
	if err != nil {
		return err
	}
	unlock, err := v.lock(abs)
	if err != nil {
		return fmt.Errorf("vault: lock %s: %w", rel, err)
	}
	defer unlock()

	old, err := os.ReadFile(abs)
	found := true
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("vault: read %s: %w", rel, err)
		}
		old, found = nil, false
	}

	updated, err := fn(old, found)
	if err != nil {
		return err
	}
	if err := writeLocked(abs, updated); err != nil {
		return fmt.Errorf("vault: write %s: %w", rel, err)
	}
	return nil
}

// List returns the entry names directly under relDir, sorted, with lock and
// temp sidecars filtered out. A missing directory is an empty listing, not
// an error.
func (v *Vault) List(relDir string) ([]string, error) {
	abs, err := v.resolve(relDir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("vault: list %s: %w", relDir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".lock") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (v *Vault) resolve(rel string) (string, error) {
	abs, err := garde.SafePath(v.root, rel)
	if err != nil {
		return "", fmt.Errorf("vault: %s: %w", rel, err)
	}
	return abs, nil
}

// lock takes an exclusive flock on the path's sidecar lock file, creating
// parent directories as needed. The sidecar has a stable inode, unlike the
// data file which is replaced on every rename.
func (v *Vault) lock(abs string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}
	lf, err := os.OpenFile(abs+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX); err != nil {
		lf.Close()
		return nil, err
	}
	return func() {
		syscall.Flock(int(lf.Fd()), syscall.LOCK_UN)
		lf.Close()
	}, nil
}

// writeLocked performs the tmp+fsync+rename dance. Caller holds the lock.
func writeLocked(abs string, data []byte) error {
	tmp := abs + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)
		return err
	}
	// Sync the directory so the rename itself survives a crash.
	if d, err := os.Open(filepath.Dir(abs)); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
