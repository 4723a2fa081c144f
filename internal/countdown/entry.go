package countdown

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ErrRetry asks the scheduler to try the same firing again after the retry
// delay instead of treating it as done.
var ErrRetry = errors.New("countdown: retry later")

var ErrUnknownKey = errors.New("countdown: unknown key")

// ErrBusy is returned by Trigger while the slot is already firing.
var ErrBusy = errors.New("countdown: slot is firing")

// Key identifies a slot. Kind selects the Handler.
type Key struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}

// Entry describes what a slot should do.
//
// With a zero At the slot runs in interval mode and every countdown is drawn
// from [Min, Max]. With At set it fires at At, then every Every if Every is
// positive, and completes otherwise.
type Entry struct {
	Key     Key
	Enabled bool

	Min, Max time.Duration

	At    time.Time
	Every time.Duration

	// NextFire is the persisted fire time, used only during recovery.
	NextFire *time.Time
}

// sameSchedule reports whether e and o would produce the same countdowns.
func (e Entry) sameSchedule(o Entry) bool {
	return e.Enabled == o.Enabled &&
		e.Min == o.Min && e.Max == o.Max &&
		e.At.Equal(o.At) && e.Every == o.Every
}

func (e Entry) fixed() bool {
	return !e.At.IsZero()
}

func (e Entry) recurring() bool {
	return !e.fixed() || e.Every > 0
}

// due returns the time recovery should compare against now, if any.
func (e Entry) due() (time.Time, bool) {
	if e.NextFire != nil {
		return *e.NextFire, true
	}
	if e.fixed() {
		return e.At, true
	}
	return time.Time{}, false
}

// Handler binds a Kind to its side effects.
type Handler interface {
	// Fire performs the delivery. An error is reported but does not stop a
	// recurring slot from re-arming; ErrRetry re-arms after the retry delay.
	Fire(ctx context.Context, key Key) error
	// Persist records the next fire time. It is called before the timer is set.
	Persist(ctx context.Context, key Key, at time.Time) error
	// Clear drops the persisted fire time.
	Clear(ctx context.Context, key Key) error
	// Complete marks a non-recurring slot as done.
	Complete(ctx context.Context, key Key) error
}

// Draw returns a duration uniformly distributed over [min, max].
func Draw(minDur, maxDur time.Duration, rng *rand.Rand) time.Duration {
	if maxDur <= minDur {
		return minDur
	}
	return minDur + time.Duration(rng.Int64N(int64(maxDur-minDur)+1))
}

type State string

const (
	StateIdle     State = "idle"
	StateArmed    State = "armed"
	StateDeferred State = "deferred"
	StateFiring   State = "firing"
)

type SlotStatus struct {
	Key      Key        `json:"key"`
	State    State      `json:"state"`
	NextFire *time.Time `json:"next_fire,omitempty"`
}
