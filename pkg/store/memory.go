package store

import (
	"context"
	"sync"
)

// Memory is an in-process Backend. Values do not survive a restart.
type Memory struct {
	mu    sync.RWMutex
	areas map[string]map[string][]byte
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{areas: make(map[string]map[string][]byte)}
}

// Area returns the KV for name.
func (m *Memory) Area(name string) KV {
	return &memoryArea{m: m, name: name}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

type memoryArea struct {
	m    *Memory
	name string
}

func (a *memoryArea) Get(_ context.Context, key string) ([]byte, error) {
	a.m.mu.RLock()
	defer a.m.mu.RUnlock()
	v, ok := a.m.areas[a.name][key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (a *memoryArea) Set(_ context.Context, key string, value []byte) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	area, ok := a.m.areas[a.name]
	if !ok {
		area = make(map[string][]byte)
		a.m.areas[a.name] = area
	}
	v := make([]byte, len(value))
	copy(v, value)
	area[key] = v
	return nil
}

func (a *memoryArea) Delete(_ context.Context, key string) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	delete(a.m.areas[a.name], key)
	return nil
}
