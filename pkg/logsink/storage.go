package logsink

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/itohio/gasnode/pkg/telemetry"
)

// Storage is the durable file capability behind the log sink.
type Storage interface {
	// Mount makes the storage ready. Calling it on mounted storage is a no-op.
	Mount() error
	// Exists reports whether the named file exists.
	Exists(name string) (bool, error)
	// Append writes data at the end of the named file, creating it if needed.
	Append(name string, data []byte) error
	// ReadFile returns the content of the named file.
	ReadFile(name string) ([]byte, error)
}

var _ Storage = (*Dir)(nil)

// Dir is Storage rooted at a mount point, such as an SD card mounted by the OS.
type Dir struct {
	root   string
	create bool
}

// NewDir returns storage rooted at root. With create set, Mount creates a
// missing root instead of reporting the medium as absent.
func NewDir(root string, create bool) *Dir {
	return &Dir{root: root, create: create}
}

// Root returns the mount point.
func (d *Dir) Root() string {
	return d.root
}

// Mount checks that the root is a directory.
func (d *Dir) Mount() error {
	info, err := os.Stat(d.root)
	if errors.Is(err, fs.ErrNotExist) && d.create {
		if err := os.MkdirAll(d.root, 0o755); err != nil {
			return fmt.Errorf("create %s: %w: %w", d.root, telemetry.ErrStorageUnavailable, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w: %w", d.root, telemetry.ErrStorageUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", d.root, telemetry.ErrStorageUnavailable)
	}
	return nil
}

// Exists implements Storage.
func (d *Dir) Exists(name string) (bool, error) {
	_, err := os.Stat(d.path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w: %w", name, telemetry.ErrStorageUnavailable, err)
}

// Append implements Storage. The file is synced before returning.
func (d *Dir) Append(name string, data []byte) error {
	f, err := os.OpenFile(d.path(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w: %w", name, telemetry.ErrStorageUnavailable, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w: %w", name, telemetry.ErrStorageUnavailable, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w: %w", name, telemetry.ErrStorageUnavailable, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w: %w", name, telemetry.ErrStorageUnavailable, err)
	}
	return nil
}

// ReadFile implements Storage.
func (d *Dir) ReadFile(name string) ([]byte, error) {
	data, err := os.ReadFile(d.path(name))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", name, telemetry.ErrStorageUnavailable, err)
	}
	return data, nil
}

func (d *Dir) path(name string) string {
	return filepath.Join(d.root, name)
}
