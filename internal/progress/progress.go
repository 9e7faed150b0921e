// Package progress defines how long-running image operations report work
// done and learn that the caller wants them to stop.
package progress

import (
	"context"
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Monitor receives progress from a decode or encode loop.
type Monitor interface {
	// IncrementBy reports that n more scanlines were processed.
	IncrementBy(n int)

	// SetIndeterminate switches the monitor between a determinate and an
	// indeterminate display. Loops call SetIndeterminate(true) when done.
	SetIndeterminate(indeterminate bool)
}

// Token is polled by loops between strips.
type Token interface {
	IsCanceled() bool
}

// Nop is a Monitor and Token that ignores progress and is never canceled.
var Nop nop

type nop struct{}

func (nop) IncrementBy(int)       {}
func (nop) SetIndeterminate(bool) {}
func (nop) IsCanceled() bool      { return false }

// Flag is a Token that becomes canceled once Cancel is called. The zero
// value is ready to use.
type Flag struct {
	canceled atomic.Bool
}

// Cancel marks the flag canceled.
func (f *Flag) Cancel() { f.canceled.Store(true) }

// IsCanceled implements Token.
func (f *Flag) IsCanceled() bool { return f.canceled.Load() }

type ctxToken struct {
	ctx context.Context
}

func (t ctxToken) IsCanceled() bool { return t.ctx.Err() != nil }

// FromContext returns a Token that is canceled when ctx is done.
func FromContext(ctx context.Context) Token {
	if ctx == nil {
		return Nop
	}
	return ctxToken{ctx: ctx}
}

// LogMonitor logs progress at debug level. It reports every Step lines, and
// always on completion.
type LogMonitor struct {
	Name  string
	Total int
	Step  int

	done    atomic.Int64
	lastLog atomic.Int64
}

// NewLogMonitor returns a monitor for an operation over total scanlines that
// logs roughly every tenth of the work.
func NewLogMonitor(name string, total int) *LogMonitor {
	return &LogMonitor{Name: name, Total: total, Step: max(total/10, 1)}
}

// IncrementBy implements Monitor.
func (m *LogMonitor) IncrementBy(n int) {
	done := m.done.Add(int64(n))
	step := int64(max(m.Step, 1))
	if done-m.lastLog.Load() < step {
		return
	}
	m.lastLog.Store(done)
	log.WithFields(log.Fields{
		"op":    m.Name,
		"lines": done,
		"total": m.Total,
	}).Debug("progress")
}

// SetIndeterminate implements Monitor.
func (m *LogMonitor) SetIndeterminate(indeterminate bool) {
	if indeterminate {
		log.WithFields(log.Fields{
			"op":    m.Name,
			"lines": m.done.Load(),
			"total": m.Total,
		}).Debug("progress finished")
	}
}

// Done returns the number of lines reported so far.
func (m *LogMonitor) Done() int {
	return int(m.done.Load())
}

// SafeMonitor wraps m so that a panicking implementation is logged and
// ignored rather than unwinding the caller's loop. A nil m yields Nop.
func SafeMonitor(m Monitor) Monitor {
	if m == nil {
		return Nop
	}
	if _, ok := m.(safeMonitor); ok {
		return m
	}
	return safeMonitor{m: m}
}

type safeMonitor struct {
	m Monitor
}

func (s safeMonitor) IncrementBy(n int) {
	defer recoverCallback("IncrementBy")
	s.m.IncrementBy(n)
}

func (s safeMonitor) SetIndeterminate(v bool) {
	defer recoverCallback("SetIndeterminate")
	s.m.SetIndeterminate(v)
}

// SafeToken wraps t so that a panic inside IsCanceled is logged and treated
// as not canceled. A nil t yields Nop.
func SafeToken(t Token) Token {
	if t == nil {
		return Nop
	}
	if _, ok := t.(safeToken); ok {
		return t
	}
	return safeToken{t: t}
}

type safeToken struct {
	t Token
}

func (s safeToken) IsCanceled() (canceled bool) {
	defer recoverCallback("IsCanceled")
	return s.t.IsCanceled()
}

func recoverCallback(name string) {
	if r := recover(); r != nil {
		log.WithField("callback", name).Warn(fmt.Sprintf("progress callback panicked: %v", r))
	}
}
