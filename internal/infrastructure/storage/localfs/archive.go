package localfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

const metaSuffix = ".meta.json"

// Archive is a directory tree archive. Folder ids are slash separated paths
// relative to the root; file ids are the folder id plus the file name.
type Archive struct {
	root string
}

func NewArchive(root string) (*Archive, error) {
	if root == "" {
		root = "./data/archive"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Archive{root: root}, nil
}

func (a *Archive) ResolveOrCreateFolder(_ context.Context, name, parentID string) (string, error) {
	name = sanitizeSegment(name)
	if name == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "resolve folder", errors.New("folder name is empty"))
	}
	if err := os.MkdirAll(filepath.Join(a.dir(parentID), name), 0o755); err != nil {
		return "", fmt.Errorf("create folder: %w", err)
	}
	return path.Join(cleanID(parentID), name), nil
}

func (a *Archive) ListFileNames(_ context.Context, folderID, prefix string) ([]string, error) {
	entries, err := os.ReadDir(a.dir(folderID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list folder: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, metaSuffix) || !strings.HasPrefix(name, prefix) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// Upload writes the file and a JSON sidecar with its metadata envelope.
// Existing names get a " (n)" suffix instead of being overwritten.
func (a *Archive) Upload(_ context.Context, content []byte, file domain.ArchiveFile, folderID string) (string, error) {
	name := sanitizeSegment(file.Name)
	if name == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "upload file", errors.New("file name is empty"))
	}
	dir := a.dir(folderID)
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("open folder %s: %w", folderID, err)
	}

	meta, err := json.MarshalIndent(file.Metadata, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	for n := 1; ; n++ {
		candidate := numbered(name, n)
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create file: %w", err)
		}
		if _, err := bytes.NewReader(content).WriteTo(f); err != nil {
			f.Close()
			return "", fmt.Errorf("write file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close file: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, candidate+metaSuffix), meta, 0o644); err != nil {
			return "", fmt.Errorf("write metadata: %w", err)
		}
		return path.Join(cleanID(folderID), candidate), nil
	}
}

func (a *Archive) dir(folderID string) string {
	return filepath.Join(a.root, filepath.FromSlash(cleanID(folderID)))
}

// cleanID roots the id before cleaning so ".." can never leave the archive.
func cleanID(id string) string {
	id = strings.Trim(path.Clean("/"+strings.TrimSpace(id)), "/")
	if id == "." {
		return ""
	}
	return id
}

func sanitizeSegment(name string) string {
	name = strings.TrimSpace(strings.NewReplacer("/", "_", `\`, "_").Replace(name))
	if name == "." || name == ".." {
		return ""
	}
	return name
}

func numbered(name string, n int) string {
	if n == 1 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n, ext)
}
