package objectstore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/mixbenchproject/mixbench/internal/common/mixerrors"
)

// FilesystemStore maps keys onto files below a root directory. It is the
// default backend for local development and the CLI. Writes go through a
// temporary file and a rename so that readers never observe a partially
// written document; Updates are serialised per process.
type FilesystemStore struct {
	root string
	mu   sync.Mutex
}

func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if root == "" {
		return nil, errors.New("filesystem store root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating store root %q", root)
	}
	return &FilesystemStore{root: root}, nil
}

func (s *FilesystemStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *FilesystemStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &mixerrors.ErrNotFound{Type: "object", Value: key}
		}
		return nil, errors.Wrapf(err, "reading object %q", key)
	}
	return data, nil
}

func (s *FilesystemStore) Put(ctx context.Context, key string, data []byte) error {
	target := s.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrapf(err, "creating directory for object %q", key)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".mixbench-*")
	if err != nil {
		return errors.Wrapf(err, "creating temporary file for object %q", key)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "writing object %q", key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "closing object %q", key)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "replacing object %q", key)
	}
	return nil
}

func (s *FilesystemStore) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := os.Stat(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &mixerrors.ErrNotFound{Type: "object", Value: key}
		}
		return nil, errors.Wrapf(err, "statting object %q", key)
	}
	return &ObjectInfo{Key: key, Size: info.Size(), LastModified: info.ModTime()}, nil
}

func (s *FilesystemStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	infos := []ObjectInfo{}
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		fileInfo, err := d.Info()
		if err != nil {
			return err
		}
		infos = append(infos, ObjectInfo{Key: key, Size: fileInfo.Size(), LastModified: fileInfo.ModTime()})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "listing objects under %q", prefix)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *FilesystemStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "deleting object %q", key)
	}
	return nil
}

func (s *FilesystemStore) Update(ctx context.Context, key string, mutate func(current []byte, exists bool) ([]byte, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Get(ctx, key)
	exists := true
	if err != nil {
		var notFound *mixerrors.ErrNotFound
		if !errors.As(err, &notFound) {
			return err
		}
		current = nil
		exists = false
	}
	next, err := mutate(current, exists)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, next)
}
