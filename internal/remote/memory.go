package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process mirror for tests and the explicit "memory" strategy.
// It does not survive a restart.
type Memory struct {
	mu      sync.RWMutex
	name    string
	objects map[string]Object
	failing error
}

func NewMemory() *Memory {
	return &Memory{name: "memory", objects: make(map[string]Object)}
}

func (m *Memory) Name() string { return m.name }

// Fail makes every later call return err until called again with nil.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	m.failing = err
	m.mu.Unlock()
}

func contentRevision(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (m *Memory) List(_ context.Context, prefix string) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failing != nil {
		return nil, m.failing
	}
	var out []Object
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		obj.Data = nil
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) Get(_ context.Context, key string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failing != nil {
		return Object{}, m.failing
	}
	obj, ok := m.objects[key]
	if !ok {
		return Object{}, ErrNotFound
	}
	obj.Data = append([]byte{}, obj.Data...)
	return obj, nil
}

func (m *Memory) Put(_ context.Context, key string, data []byte, prevRev string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing != nil {
		return "", m.failing
	}
	current, ok := m.objects[key]
	if prevRev != "" && (!ok || current.Revision != prevRev) {
		return "", &ConflictError{Key: key, Current: current.Revision}
	}
	rev := contentRevision(data)
	m.objects[key] = Object{
		Key:       key,
		Data:      append([]byte{}, data...),
		Revision:  rev,
		UpdatedAt: time.Now(),
	}
	return rev, nil
}

func (m *Memory) Delete(_ context.Context, key string, rev string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing != nil {
		return m.failing
	}
	current, ok := m.objects[key]
	if !ok {
		return ErrNotFound
	}
	if rev != "" && current.Revision != rev {
		return &ConflictError{Key: key, Current: current.Revision}
	}
	delete(m.objects, key)
	return nil
}
