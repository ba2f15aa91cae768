package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrInvalidFileName is returned for names that are empty, hidden or contain
// path elements.
var ErrInvalidFileName = errors.New("invalid file name")

// ErrDocumentNotFound is returned when a stored document does not exist.
var ErrDocumentNotFound = errors.New("document not found")

const textDir = ".text"

// FileInfo describes a stored document.
type FileInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Document is the extracted text of a stored file.
type Document struct {
	Name string
	Text string
}

// DocumentStore keeps the raw uploads of each tenant and their extracted text.
type DocumentStore interface {
	Save(ctx context.Context, tenantID, name string, raw []byte) error
	SaveText(ctx context.Context, tenantID, name, text string) error
	Texts(ctx context.Context, tenantID string) ([]Document, error)
	List(ctx context.Context, tenantID string) ([]FileInfo, error)
	Delete(ctx context.Context, tenantID, name string) error
	Clear(ctx context.Context, tenantID string) error
}

// ValidateFileName rejects names that could escape the tenant directory.
func ValidateFileName(name string) error {
	switch {
	case name == "", len(name) > 255, !utf8.ValidString(name):
		return ErrInvalidFileName
	case strings.HasPrefix(name, "."):
		return ErrInvalidFileName
	case strings.ContainsAny(name, "/\\\x00"):
		return ErrInvalidFileName
	case name != filepath.Base(name):
		return ErrInvalidFileName
	}
	return nil
}

// DiskStore is a DocumentStore rooted at a directory, one sub-directory per
// tenant. Extracted text is cached under a hidden sub-directory so lexical
// search does not re-parse documents.
type DiskStore struct {
	root string
}

var _ DocumentStore = (*DiskStore)(nil)

// NewDiskStore creates the root directory if needed.
func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create knowledge dir: %w", err)
	}
	return &DiskStore{root: root}, nil
}

func (d *DiskStore) tenantDir(tenantID string) (string, error) {
	if err := ValidateFileName(tenantID); err != nil {
		return "", fmt.Errorf("tenant id: %w", err)
	}
	return filepath.Join(d.root, tenantID), nil
}

func (d *DiskStore) paths(tenantID, name string) (raw, text string, err error) {
	dir, err := d.tenantDir(tenantID)
	if err != nil {
		return "", "", err
	}
	if err := ValidateFileName(name); err != nil {
		return "", "", err
	}
	return filepath.Join(dir, name), filepath.Join(dir, textDir, name+".txt"), nil
}

// Save implements DocumentStore.
func (d *DiskStore) Save(_ context.Context, tenantID, name string, raw []byte) error {
	path, _, err := d.paths(tenantID, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create tenant dir: %w", err)
	}
	return writeFileAtomic(path, raw)
}

// SaveText implements DocumentStore.
func (d *DiskStore) SaveText(_ context.Context, tenantID, name, text string) error {
	_, path, err := d.paths(tenantID, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create text dir: %w", err)
	}
	return writeFileAtomic(path, []byte(text))
}

// Texts implements DocumentStore. Files without cached text are extracted on
// the fly; files that cannot be extracted are skipped.
func (d *DiskStore) Texts(ctx context.Context, tenantID string) ([]Document, error) {
	files, err := d.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rawPath, textPath, err := d.paths(tenantID, f.Name)
		if err != nil {
			continue
		}
		if b, err := os.ReadFile(textPath); err == nil {
			out = append(out, Document{Name: f.Name, Text: string(b)})
			continue
		}
		ft, err := FileTypeOf(f.Name)
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(rawPath)
		if err != nil {
			continue
		}
		text, err := ExtractText(raw, ft)
		if err != nil {
			continue
		}
		out = append(out, Document{Name: f.Name, Text: text})
	}
	return out, nil
}

// List implements DocumentStore. A tenant without documents has an empty list.
func (d *DiskStore) List(_ context.Context, tenantID string) ([]FileInfo, error) {
	dir, err := d.tenantDir(tenantID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []FileInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tenant dir: %w", err)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{Name: e.Name(), Size: info.Size(), ModifiedAt: info.ModTime().UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete implements DocumentStore.
func (d *DiskStore) Delete(_ context.Context, tenantID, name string) error {
	rawPath, textPath, err := d.paths(tenantID, name)
	if err != nil {
		return err
	}
	if err := os.Remove(rawPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrDocumentNotFound
		}
		return fmt.Errorf("remove document: %w", err)
	}
	if err := os.Remove(textPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove document text: %w", err)
	}
	return nil
}

// Clear implements DocumentStore.
func (d *DiskStore) Clear(_ context.Context, tenantID string) error {
	dir, err := d.tenantDir(tenantID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear tenant dir: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
