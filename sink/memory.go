package sink

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// Object is something written to a memory sink
type Object struct {
	ContentType string
	Body        []byte
}

// Memory is a sink backed by a map, used for testing
type Memory struct {
	mutex   sync.Mutex
	objects map[string]*Object
	puts    int
	err     error
	failAt  int
}

// NewMemory creates a new empty memory sink
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]*Object)}
}

// PutIfAbsent writes the object if nothing exists at key
func (m *Memory) PutIfAbsent(ctx context.Context, key string, contentType string, body []byte) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.puts++
	if m.err != nil && m.puts >= m.failAt {
		return false, m.err
	}

	if _, exists := m.objects[key]; exists {
		return false, nil
	}

	m.objects[key] = &Object{ContentType: contentType, Body: slices.Clone(body)}
	return true, nil
}

// Check returns the configured error if any
func (m *Memory) Check(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.err
}

// SetError makes writes fail with err, starting from the nth call to PutIfAbsent counting from 1
func (m *Memory) SetError(err error, nth int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.err = err
	m.failAt = m.puts + nth
}

// Get returns the object at key
func (m *Memory) Get(key string) *Object {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.objects[key]
}

// Keys returns the sorted keys of all objects
func (m *Memory) Keys() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return slices.Sorted(maps.Keys(m.objects))
}
