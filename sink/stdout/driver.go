// Package stdout prints produced records instead of sending them.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"kafnotif/sink"
	"kafnotif/source/kafka"
)

/* ────────── config ────────── */
type Config struct {
	Delay        time.Duration // artificial per-record delay
	PrintCounter bool          // prepend seq#
	Out          io.Writer     // defaults to os.Stdout
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config
	mu  sync.Mutex // serializes writes
	seq uint64
}

func New(cfg Config) sink.Producer {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &driver{cfg: cfg}
}

func (d *driver) Publish(ctx context.Context, msgs ...sink.Message) error {
	for _, m := range msgs {
		if d.cfg.Delay > 0 {
			select {
			case <-time.After(d.cfg.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		var hdrs []string
		for _, k := range m.SortedHeaderKeys() {
			hdrs = append(hdrs, k+"="+string(m.Headers[k]))
		}

		d.mu.Lock()
		var err error
		if d.cfg.PrintCounter {
			_, err = fmt.Fprintf(d.cfg.Out, "[sink %06d] %s key=%s headers=[%s] %s\n",
				atomic.AddUint64(&d.seq, 1), m.Topic, m.Key, strings.Join(hdrs, ","), m.Value)
		} else {
			_, err = fmt.Fprintf(d.cfg.Out, "%s key=%s headers=[%s] %s\n",
				m.Topic, m.Key, strings.Join(hdrs, ","), m.Value)
		}
		d.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *driver) Close() error { return nil }

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func(kafka.Config) (sink.Producer, error) {
		return New(Config{PrintCounter: true}), nil
	})
}
