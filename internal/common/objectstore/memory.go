package objectstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mixbenchproject/mixbench/internal/common/mixerrors"
)

type memoryObject struct {
	data         []byte
	lastModified time.Time
}

// MemoryStore keeps objects in a map. Used by tests and by the mem:// store
// url; Update calls for the same store are serialised by a mutex, which makes
// the repository's generation check behave like a true compare-and-swap.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]memoryObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: map[string]memoryObject{},
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *MemoryStore) getLocked(key string) ([]byte, error) {
	obj, ok := s.objects[key]
	if !ok {
		return nil, &mixerrors.ErrNotFound{Type: "object", Value: key}
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return data, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(key, data)
	return nil
}

func (s *MemoryStore) putLocked(key string, data []byte) {
	stored := make([]byte, len(data))
	copy(stored, data)
	s.objects[key] = memoryObject{data: stored, lastModified: time.Now()}
}

func (s *MemoryStore) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, &mixerrors.ErrNotFound{Type: "object", Value: key}
	}
	return &ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.lastModified}, nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := []ObjectInfo{}
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.lastModified})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, mutate func(current []byte, exists bool) ([]byte, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getLocked(key)
	exists := err == nil
	if !exists {
		current = nil
	}
	next, err := mutate(current, exists)
	if err != nil {
		return err
	}
	s.putLocked(key, next)
	return nil
}
