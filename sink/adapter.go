package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"kafnotif/source/kafka"
)

// Message is one record to produce.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string][]byte
}

// Producer is the common behaviour every sink exposes.
type Producer interface {
	// Publish writes msgs and returns once every one is acknowledged by
	// the broker or the first failure is known.
	Publish(ctx context.Context, msgs ...Message) error
	Close() error // idempotent
}

/*──────── registry ───────*/

// Factory builds a producer from the shared broker settings.
type Factory func(cfg kafka.Config) (Producer, error)

var (
	mu  sync.RWMutex
	reg = map[string]Factory{}
)

func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	reg[name] = f
}

func Open(name string, cfg kafka.Config) (Producer, error) {
	mu.RLock()
	f, ok := reg[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown sink %q", name)
	}
	return f(cfg)
}

func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// SortedHeaderKeys returns the header names of m in a stable order.
func (m Message) SortedHeaderKeys() []string {
	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
