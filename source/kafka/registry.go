package kafka

import (
	"fmt"
	"sort"
	"sync"
)

// Factory opens one consumer-group member.
type Factory func(cfg Config) (Conn, error)

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{}
)

// Register is called from each driver's init().
func Register(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

// Open returns a connection from the named driver ("sarama", "franz", "kafkago", "memory").
func Open(name string, cfg Config) (Conn, error) {
	regMu.RLock()
	f, ok := registry[name]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("kafka: unsupported driver %q", name)
	}
	return f(cfg)
}

// Drivers lists registered driver names.
func Drivers() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
