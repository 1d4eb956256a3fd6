package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Store. Documents are held in a map guarded by a RWMutex.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]Document
	hub  *Hub
}

func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]Document),
		hub:  NewHub(),
	}
}

func (m *Memory) Get(ctx context.Context, path string) (Document, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return Clone(doc), nil
}

func (m *Memory) Set(ctx context.Context, path string, doc Document) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	normalized, err := Encode(doc)
	if err != nil {
		return err
	}
	if normalized == nil {
		normalized = Document{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[path] = normalized
	m.hub.Publish(Snapshot{Path: path, Data: normalized})
	return nil
}

func (m *Memory) Update(ctx context.Context, path string, updates ...Update) error {
	if err := ValidatePath(path); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.docs[path]
	if !ok {
		return fmt.Errorf("failed to update %s: %w", path, ErrNotFound)
	}
	next, err := Apply(current, updates...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", path, err)
	}
	m.docs[path] = next
	m.hub.Publish(Snapshot{Path: path, Data: next})
	return nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[path]; !ok {
		return nil
	}
	delete(m.docs, path)
	m.hub.Publish(Snapshot{Path: path})
	return nil
}

func (m *Memory) List(ctx context.Context, collection string) ([]Snapshot, error) {
	if err := ValidatePath(collection); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Snapshot
	for path, doc := range m.docs {
		if IsChild(collection, path) {
			out = append(out, Snapshot{Path: path, Data: Clone(doc)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *Memory) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	// Holding the write lock orders the initial snapshot before any later publish.
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hub.Subscribe(ctx, path, Snapshot{Path: path, Data: m.docs[path]}, fn)
}

// Close stops all subscriptions.
func (m *Memory) Close() {
	m.hub.Close()
}
