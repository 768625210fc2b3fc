// Package objdict provides a minimal in-memory ObjectAccess
// implementation. It exists only to exercise remoteaccess.Server in
// tests and examples; the object-dictionary backing store is explicitly
// out of scope for this module's specification, so this is a fixture,
// not a production component.
package objdict

import (
	"fmt"
	"sort"
	"sync"

	"github.com/joeycumines/go-asyncexec/remoteaccess"
)

type subindex struct {
	name string
	data []byte
}

type object struct {
	name string
	subs map[uint8]*subindex
}

// Memory is a thread-safe, in-memory ObjectAccess.
type Memory struct {
	mu      sync.Mutex
	objects map[uint16]*object
}

// NewMemory creates an empty dictionary.
func NewMemory() *Memory {
	return &Memory{objects: make(map[uint16]*object)}
}

// Define adds or replaces an object's name and a single subindex's
// value. It is not part of the ObjectAccess contract; it is how a test
// or example populates the dictionary before exercising it through a
// Server.
func (m *Memory) Define(index uint16, name string, subindex_ uint8, subName string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[index]
	if !ok {
		obj = &object{name: name, subs: make(map[uint8]*subindex)}
		m.objects[index] = obj
	} else if name != "" {
		obj.name = name
	}
	obj.subs[subindex_] = &subindex{name: subName, data: append([]byte(nil), data...)}
}

func (m *Memory) Enumerate(first, last uint16) ([]uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []uint16
	for idx := range m.objects {
		if idx >= first && idx <= last {
			out = append(out, idx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) Info(index uint16) (remoteaccess.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[index]
	if !ok {
		return remoteaccess.ObjectInfo{}, fmt.Errorf("objdict: no object at index %#04x", index)
	}
	var lo, hi uint8
	first := true
	for si := range obj.subs {
		if first {
			lo, hi = si, si
			first = false
			continue
		}
		if si < lo {
			lo = si
		}
		if si > hi {
			hi = si
		}
	}
	return remoteaccess.ObjectInfo{Index: index, Name: obj.name, SubindexLow: lo, SubindexHigh: hi}, nil
}

func (m *Memory) SubindexName(index uint16, si uint8) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[index]
	if !ok {
		return "", fmt.Errorf("objdict: no object at index %#04x", index)
	}
	sub, ok := obj.subs[si]
	if !ok {
		return "", fmt.Errorf("objdict: no subindex %d at index %#04x", si, index)
	}
	return sub.name, nil
}

func (m *Memory) Read(index uint16, si uint8) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[index]
	if !ok {
		return nil, fmt.Errorf("objdict: no object at index %#04x", index)
	}
	sub, ok := obj.subs[si]
	if !ok {
		return nil, fmt.Errorf("objdict: no subindex %d at index %#04x", si, index)
	}
	return append([]byte(nil), sub.data...), nil
}

func (m *Memory) Write(index uint16, si uint8, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[index]
	if !ok {
		return fmt.Errorf("objdict: no object at index %#04x", index)
	}
	sub, ok := obj.subs[si]
	if !ok {
		return fmt.Errorf("objdict: no subindex %d at index %#04x", si, index)
	}
	sub.data = append([]byte(nil), data...)
	return nil
}

var _ remoteaccess.ObjectAccess = (*Memory)(nil)
