package tariff

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// SaveUpload stores an uploaded tariff under dir and returns its path.
func SaveUpload(dir string, r io.Reader) (string, error) {
	path := filepath.Join(dir, "tariff-"+uuid.NewString()+".pdf")
	if err := writeFileAtomically(path, r); err != nil {
		return "", err
	}
	return path, nil
}

// ErrOutsideDir is returned for tariff paths that escape the tariff directory.
var ErrOutsideDir = errors.New("tariff path must stay inside the tariff directory")

// ResolvePath maps a name relative to dir onto a file inside dir. Absolute
// paths and names that climb out of dir are rejected.
func ResolvePath(dir, name string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("%w: no tariff directory configured", ErrOutsideDir)
	}
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrOutsideDir, name)
	}
	base, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	full := filepath.Join(base, name)
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideDir, name)
	}
	return full, nil
}

func writeFileAtomically(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
