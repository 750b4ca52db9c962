package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ErrNotFound indicates the requested file does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrExists indicates an upload with the same sanitized name is already
	// stored.
	ErrExists = errors.New("file already exists")
	// ErrStorage indicates a filesystem failure other than absence.
	ErrStorage = errors.New("storage failure")
)

var disallowedChars = regexp.MustCompile(`[^A-Za-z0-9_. -]`)

// SanitizeFilename strips every character outside [A-Za-z0-9_.- ] and then
// replaces spaces with underscores. Path separators are removed by the
// character filter, so the result can never escape the storage directories.
// Sanitizing an already-sanitized name is a no-op.
func SanitizeFilename(name string) string {
	name = disallowedChars.ReplaceAllString(name, "")
	return strings.ReplaceAll(name, " ", "_")
}

// Stem returns the filename without its extension. Uploads and their derived
// artifacts share a stem.
func Stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// FileStore manages uploaded audio files and the derived transcript
// artifacts written next to them.
type FileStore struct {
	uploadDir string
	dataDir   string
}

// NewFileStore creates a store over the upload and artifact directories.
func NewFileStore(uploadDir, dataDir string) *FileStore {
	return &FileStore{uploadDir: uploadDir, dataDir: dataDir}
}

// UploadDir returns the upload area root.
func (s *FileStore) UploadDir() string { return s.uploadDir }

// DataDir returns the artifact area root.
func (s *FileStore) DataDir() string { return s.dataDir }

// UploadPath returns the on-disk path for an upload filename.
func (s *FileStore) UploadPath(name string) string {
	return filepath.Join(s.uploadDir, name)
}

// ArtifactPath returns the on-disk path for an artifact filename.
func (s *FileStore) ArtifactPath(name string) string {
	return filepath.Join(s.dataDir, name)
}

// SaveUpload sanitizes the suggested name and writes the reader's contents
// into the upload area, creating directories as needed. It returns the
// sanitized name the file was stored under. A name that is already taken
// fails with ErrExists before any bytes are written; an existing upload is
// never truncated.
func (s *FileStore) SaveUpload(r io.Reader, suggested string) (string, error) {
	name := SanitizeFilename(suggested)
	if name == "" || strings.Trim(name, ".") == "" {
		return "", fmt.Errorf("unusable filename %q", suggested)
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create upload dir: %v", ErrStorage, err)
	}

	f, err := os.OpenFile(s.UploadPath(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrExists, name)
		}
		return "", fmt.Errorf("%w: create %s: %v", ErrStorage, name, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", ErrStorage, name, err)
	}
	return name, nil
}

// RemoveUpload deletes only the upload file, leaving artifacts under the
// same stem alone. Used to discard a just-written upload whose stem may be
// shared with an earlier record's artifacts. Absence is not an error.
func (s *FileStore) RemoveUpload(name string) error {
	if err := os.Remove(s.UploadPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove upload %s: %v", ErrStorage, name, err)
	}
	return nil
}

// Remove deletes the upload with the given name along with every artifact
// sharing its stem. Files that are already gone are skipped; deletion is
// idempotent. Other filesystem errors abort with ErrStorage so the caller
// can keep its record and retry.
func (s *FileStore) Remove(name string) error {
	if err := s.RemoveUpload(name); err != nil {
		return err
	}

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: read artifact dir: %v", ErrStorage, err)
	}

	stem := Stem(name)
	for _, entry := range entries {
		if entry.IsDir() || Stem(entry.Name()) != stem {
			continue
		}
		if err := os.Remove(s.ArtifactPath(entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: remove artifact %s: %v", ErrStorage, entry.Name(), err)
		}
	}
	return nil
}

// OpenArtifact opens an artifact for download. Names that do not survive
// sanitization unchanged are treated as absent.
func (s *FileStore) OpenArtifact(filename string) (*os.File, error) {
	if filename == "" || SanitizeFilename(filename) != filename {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
	}

	f, err := os.Open(s.ArtifactPath(filename))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filename)
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorage, filename, err)
	}
	return f, nil
}
