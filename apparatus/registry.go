package apparatus

import (
	"fmt"
	"sync"
)

// NameRegistry hands out component names for one build session. Explicit
// names must be unique; missing names are generated as <Kind>_<n>.
type NameRegistry struct {
	mu       sync.Mutex
	used     map[string]bool
	counters map[Kind]int
}

func NewNameRegistry() *NameRegistry {
	return &NameRegistry{
		used:     make(map[string]bool),
		counters: make(map[Kind]int),
	}
}

func (r *NameRegistry) Register(kind Kind, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		for {
			name = fmt.Sprintf("%s_%d", kind, r.counters[kind])
			r.counters[kind]++
			if !r.used[name] {
				break
			}
		}
	} else if r.used[name] {
		return "", Invalid(name, "cannot have two components with the same name")
	}
	r.used[name] = true
	return name, nil
}

func (r *NameRegistry) Contains(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used[name]
}
