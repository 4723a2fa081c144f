package tuning

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"basegraph.app/chorus/internal/metrics"
)

// Source is what engine components depend on. They call Current on every
// decision so a reload takes effect on the next one.
type Source interface {
	Current() Tuning
}

type Holder struct {
	current atomic.Pointer[Tuning]
	v       *viper.Viper
	path    string

	mu        sync.Mutex
	listeners []func(Tuning)
}

// Static returns a Holder fixed at t. Used by tests and when no tuning file is
// configured.
func Static(t Tuning) *Holder {
	h := &Holder{}
	h.current.Store(&t)
	return h
}

// Load reads path as TOML over Defaults. An empty path or a missing file yields
// the defaults; a present but invalid file is an error.
func Load(path string) (*Holder, error) {
	h := Static(Defaults())
	if path == "" {
		return h, nil
	}

	h.path = path
	h.v = viper.New()
	h.v.SetConfigFile(path)
	h.v.SetConfigType("toml")

	if err := h.Reload(); err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			slog.Warn("tuning file not found, using defaults", "path", path)
			return h, nil
		}
		return nil, err
	}
	return h, nil
}

func (h *Holder) Current() Tuning {
	return *h.current.Load()
}

// Set swaps in t after validating it.
func (h *Holder) Set(t Tuning) error {
	if err := t.Validate(); err != nil {
		return err
	}
	h.current.Store(&t)

	h.mu.Lock()
	listeners := append([]func(Tuning){}, h.listeners...)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(t)
	}
	return nil
}

// OnChange registers fn to be called after every accepted update.
func (h *Holder) OnChange(fn func(Tuning)) {
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

// Reload re-reads the file. On any error the previous tuning stays in effect.
func (h *Holder) Reload() error {
	if h.v == nil {
		return nil
	}
	if err := h.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read tuning file: %w", err)
	}

	next := Defaults()
	if err := h.v.Unmarshal(&next); err != nil {
		return fmt.Errorf("decode tuning file: %w", err)
	}
	if err := h.Set(next); err != nil {
		return fmt.Errorf("validate tuning file: %w", err)
	}
	return nil
}

// Watch reloads on every write to the file until ctx is done.
func (h *Holder) Watch(ctx context.Context) {
	if h.v == nil {
		return
	}

	h.v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		if err := h.Reload(); err != nil {
			metrics.TuningReloads.WithLabelValues("rejected").Inc()
			slog.ErrorContext(ctx, "tuning reload rejected, keeping previous values",
				"path", h.path, "error", err)
			return
		}
		metrics.TuningReloads.WithLabelValues("applied").Inc()
		slog.InfoContext(ctx, "tuning reloaded", "path", h.path, "op", e.Op.String())
	})
	h.v.WatchConfig()
}
