// Package cadence paces a generated reply: it cuts the text into message-sized
// segments and spaces them out with randomized delays.
package cadence

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"basegraph.app/chorus/internal/tuning"
)

const DefaultDelimiter = "||"

// Segment is one outgoing message. Delay is how long to wait before sending it.
type Segment struct {
	Text  string
	Delay time.Duration
}

type Splitter struct {
	Delimiter string
}

// Split returns the trimmed, non-blank pieces of text in order. Text without
// the delimiter comes back as a single segment; blank text yields nil.
func (s Splitter) Split(text string) []string {
	delim := s.Delimiter
	if delim == "" {
		delim = DefaultDelimiter
	}

	var out []string
	for _, part := range strings.Split(text, delim) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Delayer draws uniformly from [Min, Max]. It is safe for concurrent use.
type Delayer struct {
	Min, Max time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewDelayer(minDelay, maxDelay time.Duration, rng *rand.Rand) *Delayer {
	return &Delayer{Min: minDelay, Max: maxDelay, rng: rng}
}

func (d *Delayer) Next() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return draw(d.Min, d.Max, d.rng)
}

func draw(minDelay, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if maxDelay <= minDelay {
		return minDelay
	}
	span := int64(maxDelay - minDelay)
	if rng == nil {
		return minDelay + time.Duration(rand.Int64N(span+1))
	}
	return minDelay + time.Duration(rng.Int64N(span+1))
}

// Pacer builds delivery plans from the live tuning.
type Pacer struct {
	tuning tuning.Source
	delay  *Delayer
}

func NewPacer(src tuning.Source, rng *rand.Rand) *Pacer {
	return &Pacer{tuning: src, delay: &Delayer{rng: rng}}
}

// Plan pairs every segment with its delay. The first segment goes out
// immediately.
func (p *Pacer) Plan(text string) []Segment {
	t := p.tuning.Current()
	parts := Splitter{Delimiter: t.SegmentDelimiter}.Split(text)
	if len(parts) == 0 {
		return nil
	}

	minDelay, maxDelay := t.SegmentDelayBounds()
	p.delay.mu.Lock()
	defer p.delay.mu.Unlock()

	segments := make([]Segment, len(parts))
	for i, part := range parts {
		segments[i] = Segment{Text: part}
		if i > 0 {
			segments[i].Delay = draw(minDelay, maxDelay, p.delay.rng)
		}
	}
	return segments
}
