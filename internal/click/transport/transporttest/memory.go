// Package transporttest provides an in-memory click configuration surface.
package transporttest

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DrC0ns0le/clickctl/internal/click/transport"
)

type handler struct {
	perm  string
	lines []string
}

// Write is one recorded write request.
type Write struct {
	Node  string
	Key   string
	Value string
}

// Memory implements transport.Transport over maps. Handlers behave like a
// Click router: writing a readable handler replaces what later reads return.
type Memory struct {
	mu       sync.Mutex
	order    []string
	elements map[string]map[string]*handler
	failing  map[string]error
	writes   []Write
	mtime    time.Time
	reads    int
}

func NewMemory() *Memory {
	return &Memory{
		elements: map[string]map[string]*handler{},
		failing:  map[string]error{},
		mtime:    time.Now(),
	}
}

// Set installs or replaces a handler. perm is "r", "w" or "rw".
func (m *Memory) Set(node, key, perm string, lines ...string) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.elements[node]
	if !ok {
		el = map[string]*handler{}
		m.elements[node] = el
		m.order = append(m.order, node)
	}
	el[key] = &handler{perm: perm, lines: lines}
	m.mtime = time.Now()
	return m
}

// Remove deletes an element and all of its handlers.
func (m *Memory) Remove(node string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.elements, node)
	for i, n := range m.order {
		if n == node {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mtime = time.Now()
}

// Fail makes every write to node.key return err.
func (m *Memory) Fail(node, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[node+"."+key] = err
}

func (m *Memory) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Write(nil), m.writes...)
}

// Reads counts handler reads, including list and handlers.
func (m *Memory) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Touch moves the modification time forward.
func (m *Memory) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mtime = time.Now()
}

// Age moves the modification time into the past.
func (m *Memory) Age(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mtime = m.mtime.Add(-d)
}

func (m *Memory) Read(node, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++

	if node == "" && key == transport.ListHandler {
		return append([]string(nil), m.order...), nil
	}
	el, ok := m.elements[node]
	if !ok {
		return nil, &transport.StatusError{Handler: node + "." + key, Code: 511, Message: fmt.Sprintf("No element named '%s'", node)}
	}
	if key == transport.HandlersHandler {
		names := make([]string, 0, len(el))
		for name := range el {
			names = append(names, name)
		}
		sort.Strings(names)
		lines := []string{"handlers\tr"}
		for _, name := range names {
			lines = append(lines, name+"\t"+el[name].perm)
		}
		return lines, nil
	}
	h, ok := el[key]
	if !ok || h.perm == "w" {
		return nil, &transport.StatusError{Handler: node + "." + key, Code: 511, Message: fmt.Sprintf("No read handler '%s.%s'", node, key)}
	}
	return append([]string(nil), h.lines...), nil
}

func (m *Memory) Write(node, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(values) == 0 {
		values = []string{""}
	}
	for _, v := range values {
		if err := m.failing[node+"."+key]; err != nil {
			return err
		}
		h, ok := m.elements[node][key]
		if !ok || h.perm == "r" {
			return &transport.StatusError{Handler: node + "." + key, Code: 511, Message: "No write handler"}
		}
		m.writes = append(m.writes, Write{Node: node, Key: key, Value: v})
		if h.perm != "w" {
			h.lines = []string{v}
		}
	}
	m.mtime = time.Now()
	return nil
}

func (m *Memory) ModTime() (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mtime, nil
}

func (m *Memory) Backend() string { return "memory" }

func (m *Memory) Close() error { return nil }
