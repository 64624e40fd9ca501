package blob

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrInvalidKey = errors.New("invalid blob key")

// LocalFS stores artifacts under Root, addressed by relative keys.
type LocalFS struct {
	Root string
}

func (l LocalFS) abs(relPath string) (string, string, error) {
	clean := filepath.Clean(relPath)
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", "", ErrInvalidKey
	}
	return clean, filepath.Join(l.Root, clean), nil
}

func (l LocalFS) Put(relPath string, r io.Reader) (string, error) {
	clean, abs, err := l.abs(relPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(abs)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}
	return clean, nil
}

func (l LocalFS) Open(relPath string) (*os.File, error) {
	_, abs, err := l.abs(relPath)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

func (l LocalFS) Exists(relPath string) bool {
	_, abs, err := l.abs(relPath)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// Delete removes the blob and its directory if that leaves it empty.
func (l LocalFS) Delete(relPath string) error {
	_, abs, err := l.abs(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	_ = os.Remove(filepath.Dir(abs))
	return nil
}
