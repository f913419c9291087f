package store

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"sort"
	"strings"
	"sync"
)

// Memory implements a simple in-memory version of a store. It is intended
// mainly for testing.
type Memory struct {
	m     sync.RWMutex
	store map[string][]byte
}

var (
	// ensure Memory satisfies the Store interface
	_ Store = &Memory{}
)

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{store: make(map[string][]byte)}
}

// Open returns a reader over a copy of the content for key.
func (ms *Memory) Open(key string) (io.ReadCloser, error) {
	ms.m.RLock()
	v, ok := ms.store[key]
	ms.m.RUnlock()
	if !ok {
		return nil, ErrNotExist
	}
	return ioutil.NopCloser(bytes.NewReader(v)), nil
}

// Stat returns the length of the content for key.
func (ms *Memory) Stat(key string) (int64, error) {
	ms.m.RLock()
	v, ok := ms.store[key]
	ms.m.RUnlock()
	if !ok {
		return 0, ErrNotExist
	}
	return int64(len(v)), nil
}

// Stage returns a pending write which replaces key when committed.
func (ms *Memory) Stage(key string) (Pending, error) {
	if err := isKeyValid(key); err != nil {
		return nil, err
	}
	return &memPending{ms: ms, key: key}, nil
}

type memPending struct {
	ms  *Memory
	key string
	buf bytes.Buffer
}

func (p *memPending) Write(b []byte) (int, error) { return p.buf.Write(b) }

func (p *memPending) Key() string { return p.key }

func (p *memPending) Commit() error {
	p.ms.Put(p.key, p.buf.Bytes())
	return nil
}

func (p *memPending) Abort() error {
	p.buf.Reset()
	return nil
}

// Put sets the content of key directly. It is a convenience for setting up
// test fixtures.
func (ms *Memory) Put(key string, data []byte) {
	b := make([]byte, len(data))
	copy(b, data)
	ms.m.Lock()
	ms.store[key] = b
	ms.m.Unlock()
}

// Delete the given key from the store. It is not an error if the item does
// not exist.
func (ms *Memory) Delete(key string) error {
	ms.m.Lock()
	delete(ms.store, key)
	ms.m.Unlock()
	return nil
}

// List returns the keys that do not contain a slash.
func (ms *Memory) List() ([]string, error) {
	var result []string
	ms.m.RLock()
	for k := range ms.store {
		if !strings.Contains(k, "/") {
			result = append(result, k)
		}
	}
	ms.m.RUnlock()
	sort.Strings(result)
	return result, nil
}

// Dump writes a listing of the contents of the store to the given writer.
// This is intended for testing and debugging.
func (ms *Memory) Dump(w io.Writer) {
	ms.m.RLock()
	var keys []string
	for k := range ms.store {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := ms.store[k]
		if len(s) > 300 {
			s = s[:50]
		}
		fmt.Fprintf(w, "%s: %s\n", k, string(s))
	}
	ms.m.RUnlock()
}
