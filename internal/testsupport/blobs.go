package testsupport

import (
	"context"
	"sync"

	"photoflow/internal/errs"
)

// Blobs is an in-memory object store for worker tests.
type Blobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string

	FailGet error
	FailPut error
}

func NewBlobs() *Blobs {
	return &Blobs{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (b *Blobs) GetObject(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.FailGet != nil {
		return nil, errs.Wrap(errs.KindStorageUnavailable, "testsupport.GetObject", b.FailGet)
	}
	data, ok := b.objects[key]
	if !ok {
		return nil, errs.New(errs.KindStorageUnavailable, "testsupport.GetObject", "no such object: "+key)
	}
	return append([]byte(nil), data...), nil
}

func (b *Blobs) PutObject(_ context.Context, key string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.FailPut != nil {
		return errs.Wrap(errs.KindStorageUnavailable, "testsupport.PutObject", b.FailPut)
	}
	b.objects[key] = append([]byte(nil), data...)
	b.types[key] = contentType
	return nil
}

// Object returns a stored object and whether it exists.
func (b *Blobs) Object(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	return data, ok
}

// ContentType returns the content type recorded for a key.
func (b *Blobs) ContentType(key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.types[key]
}
