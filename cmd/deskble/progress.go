package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/deskble/internal/discovery"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter keeps a single status line updated while a long phase
// (scanning, validation) runs. With a non-zero deadline it counts down,
// otherwise it shows elapsed seconds.
//
// A ProgressPrinter is single-use: Start once, Stop at least once.
// A disabled printer (not a terminal) ignores both.
type ProgressPrinter struct {
	w        io.Writer
	enabled  bool
	prefix   string
	deadline time.Duration

	phase     atomic.Value // string
	startTime time.Time
	stopOnce  sync.Once
	stopChan  chan struct{}
	done      chan struct{}
	started   atomic.Bool
}

// NewProgressPrinter creates a printer writing to w. deadline of zero selects
// count-up mode.
func NewProgressPrinter(w io.Writer, enabled bool, prefix, phase string, deadline time.Duration) *ProgressPrinter {
	p := &ProgressPrinter{
		w:        w,
		enabled:  enabled,
		prefix:   prefix,
		deadline: deadline,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// Start begins the refresh loop.
// Panics if called more than once on the same ProgressPrinter instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	if !p.enabled {
		close(p.done)
		return
	}

	p.startTime = time.Now()
	p.print(p.phase.Load().(string), 0)

	ticker := time.NewTicker(progressUpdateInterval)
	go func() {
		defer close(p.done)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.print(p.phase.Load().(string), p.seconds())
			}
		}
	}()
}

func (p *ProgressPrinter) seconds() int {
	elapsed := time.Since(p.startTime)
	if p.deadline == 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.deadline - elapsed
	if remaining <= 0 {
		return 0
	}
	// 3.7s -> 4s, 3.3s -> 3s
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// Callback returns a progress callback that switches the displayed phase.
// Safe for concurrent use.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
	}
}

// Stop ends the refresh loop and clears the line. Safe to call repeatedly.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		if !p.started.Load() {
			return
		}
		close(p.stopChan)
		<-p.done
		if p.enabled {
			fmt.Fprint(p.w, clearLineSequence)
		}
	})
}

// scanProgress adds the number of devices seen to the scanning phase until
// the finder moves on.
type scanProgress struct {
	mu       sync.Mutex
	set      func(phase string)
	scanning bool
	seen     int
}

func newScanProgress(set func(phase string)) *scanProgress {
	return &scanProgress{set: set, scanning: true}
}

// Phase is the finder's progress callback.
func (p *scanProgress) Phase(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scanning = phase == discovery.PhaseScanning
	p.set(p.label(phase))
}

func (p *scanProgress) label(phase string) string {
	if p.scanning && p.seen > 0 {
		return fmt.Sprintf("%s, %d seen", phase, p.seen)
	}
	return phase
}

// Watch counts newly discovered devices until ctx ends or events closes.
func (p *scanProgress) Watch(ctx context.Context, events <-chan discovery.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != discovery.EventNew {
				continue
			}
			p.mu.Lock()
			p.seen++
			if p.scanning {
				p.set(p.label(discovery.PhaseScanning))
			}
			p.mu.Unlock()
		}
	}
}

// Seen returns the number of distinct devices counted so far.
func (p *scanProgress) Seen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen
}
