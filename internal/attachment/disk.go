// Package attachment stores uploaded message attachments on disk.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var extPattern = regexp.MustCompile(`^\.[a-zA-Z0-9]{1,10}$`)

// ErrInvalidRef is returned by Path and Delete for references that could not have been
// produced by Save.
var ErrInvalidRef = errors.New("invalid attachment reference")

// DiskStore writes attachments into a single directory. References are the
// bare file names, safe to embed in a URL path.
type DiskStore struct {
	dir string
	log *slog.Logger
	now func() time.Time
}

// NewDiskStore creates dir if needed.
func NewDiskStore(dir string, log *slog.Logger) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &DiskStore{dir: dir, log: log, now: time.Now}, nil
}

// Save writes data as "<unix-millis>-<short uuid><ext>". The extension comes
// from nameHint when it has a sane one, otherwise from the content.
func (s *DiskStore) Save(ctx context.Context, nameHint string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%d-%s%s", s.now().UnixMilli(), uuid.NewString()[:8], extensionFor(nameHint, data))

	// O_EXCL: never overwrite an existing attachment
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create attachment: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write attachment: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close attachment: %w", err)
	}

	s.log.Debug("Attachment stored", "ref", name, "bytes", len(data))
	return name, nil
}

// Path resolves a reference returned by Save to its file path.
func (s *DiskStore) Path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return "", ErrInvalidRef
	}
	return filepath.Join(s.dir, ref), nil
}

// Delete removes the file behind ref. A missing file is not an error.
func (s *DiskStore) Delete(ref string) error {
	path, err := s.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove attachment: %w", err)
	}
	s.log.Debug("Attachment removed", "ref", ref)
	return nil
}

func extensionFor(nameHint string, data []byte) string {
	ext := filepath.Ext(filepath.Base(nameHint))
	if extPattern.MatchString(ext) {
		return strings.ToLower(ext)
	}
	return mimetype.Detect(data).Extension()
}
