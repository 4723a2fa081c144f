// Package quiet holds back non-interactive deliveries during the configured
// do-not-disturb window.
package quiet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"basegraph.app/chorus/internal/metrics"
	"basegraph.app/chorus/internal/model"
)

// Window is a daily hour range in local time. StartHour > EndHour wraps
// midnight; StartHour == EndHour is never quiet.
type Window struct {
	Enabled   bool
	StartHour int
	EndHour   int
}

func FromSettings(q model.QuietHours) Window {
	return Window{Enabled: q.Enabled, StartHour: q.StartHour, EndHour: q.EndHour}
}

func (w Window) Settings() model.QuietHours {
	return model.QuietHours{Enabled: w.Enabled, StartHour: w.StartHour, EndHour: w.EndHour}
}

func (w Window) IsQuiet(now time.Time) bool {
	if !w.Enabled || w.StartHour == w.EndHour {
		return false
	}
	h := now.Hour()
	if w.StartHour < w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	return h >= w.StartHour || h < w.EndHour
}

// End returns the first instant at or after now that is outside the window.
// It returns now when now is not quiet.
func (w Window) End(now time.Time) time.Time {
	if !w.IsQuiet(now) {
		return now
	}
	end := time.Date(now.Year(), now.Month(), now.Day(), w.EndHour, 0, 0, 0, now.Location())
	if !end.After(now) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

// Deferred is a delivery waiting for the window to close. Key identifies it;
// deferring the same key twice keeps the newer Run.
type Deferred struct {
	Key string
	Run func(ctx context.Context)
}

// Filter owns the current window and the queue of deferred deliveries.
type Filter struct {
	now func() time.Time

	mu      sync.Mutex
	window  Window
	pending []Deferred
}

func NewFilter(w Window, now func() time.Time) *Filter {
	if now == nil {
		now = time.Now
	}
	return &Filter{window: w, now: now}
}

func (f *Filter) Window() Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.window
}

func (f *Filter) SetWindow(w Window) {
	f.mu.Lock()
	f.window = w
	f.mu.Unlock()
}

func (f *Filter) IsQuiet() bool {
	f.mu.Lock()
	w := f.window
	f.mu.Unlock()
	return w.IsQuiet(f.now())
}

func (f *Filter) Defer(d Deferred) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.pending {
		if f.pending[i].Key == d.Key {
			f.pending[i] = d
			return
		}
	}
	f.pending = append(f.pending, d)
	metrics.QuietDeferred.Set(float64(len(f.pending)))
}

func (f *Filter) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Flush runs every deferred delivery in queue order once the window has
// passed. It returns how many ran.
func (f *Filter) Flush(ctx context.Context) int {
	f.mu.Lock()
	if f.window.IsQuiet(f.now()) || len(f.pending) == 0 {
		f.mu.Unlock()
		return 0
	}
	due := f.pending
	f.pending = nil
	metrics.QuietDeferred.Set(0)
	f.mu.Unlock()

	slog.InfoContext(ctx, "quiet window over, flushing deferred deliveries", "count", len(due))
	for _, d := range due {
		d.Run(ctx)
	}
	return len(due)
}
