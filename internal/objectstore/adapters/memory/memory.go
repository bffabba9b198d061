// Package memory is an in-memory objectstore.Store used by tests.
package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/artemis/snap2s3/internal/objectstore"
)

type object struct {
	data     []byte
	metadata map[string]string
	tags     map[string]string
}

// Store is a concurrency-safe in-memory objectstore.Store.
type Store struct {
	mu      sync.Mutex
	objects map[string]object
}

func New() *Store {
	return &Store{objects: make(map[string]object)}
}

func key(bucket, k string) string {
	return bucket + "/" + k
}

func (s *Store) Put(ctx context.Context, opts objectstore.PutOptions) error {
	data, err := io.ReadAll(opts.Body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key(opts.Bucket, opts.Key)] = object{
		data:     data,
		metadata: cloneMap(opts.Metadata),
		tags:     cloneMap(opts.Tags),
	}
	return nil
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) Head(ctx context.Context, bucket, k string) (objectstore.HeadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key(bucket, k)]
	if !ok {
		return objectstore.HeadResult{Exists: false}, nil
	}
	return objectstore.HeadResult{
		Exists:        true,
		ContentLength: int64(len(obj.data)),
		Metadata:      cloneMap(obj.metadata),
	}, nil
}

func (s *Store) GetRange(ctx context.Context, bucket, k string, offset, length int64) (io.ReadCloser, error) {
	s.mu.Lock()
	obj, ok := s.objects[key(bucket, k)]
	s.mu.Unlock()
	if !ok {
		return nil, objectstore.ErrNotFound
	}

	data := obj.data
	if offset < 0 {
		offset = 0
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	end := int64(len(data))
	if length >= 0 && offset+length < end {
		end = offset + length
	}

	return io.NopCloser(bytes.NewReader(data[offset:end])), nil
}
