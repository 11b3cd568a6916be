// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

package tracepipe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cihub/seelog"
	"go.uber.org/atomic"

	"github.com/DataDog/vfs-write-probe/pkg/util/log"
)

// DefaultPaths are the trace_pipe locations tried, in order, when no path is configured
var DefaultPaths = []string{
	"/sys/kernel/tracing/trace_pipe",
	"/sys/kernel/debug/tracing/trace_pipe",
}

// Event is a trace record whose message matched one of the watched messages
type Event struct {
	Comm      string
	PID       uint32
	CPU       int
	Timestamp time.Duration
	Message   string
}

// Handler is called for every matching event, from the reader goroutine
type Handler func(Event)

// ReaderStats holds the reader counters
type ReaderStats struct {
	Events      uint64 `json:"events"`
	LostEvents  uint64 `json:"lost_events"`
	ParseErrors uint64 `json:"parse_errors"`
}

// Reader dispatches trace_pipe records carrying one of the watched messages.
// Other programs share the trace pipe, so every other record is skipped.
type Reader struct {
	paths    []string
	messages map[string]struct{}
	handler  Handler

	// MaxOpenElapsed bounds the time spent retrying to open the trace pipe
	MaxOpenElapsed time.Duration

	events      atomic.Uint64
	lostEvents  atomic.Uint64
	parseErrors atomic.Uint64
}

// NewReader creates a reader. An empty path selects DefaultPaths.
func NewReader(path string, handler Handler, messages ...string) (*Reader, error) {
	if handler == nil {
		return nil, errors.New("invalid options: handler is required")
	}
	if len(messages) == 0 {
		return nil, errors.New("invalid options: at least one message is required")
	}

	r := &Reader{
		paths:          DefaultPaths,
		messages:       make(map[string]struct{}, len(messages)),
		handler:        handler,
		MaxOpenElapsed: 30 * time.Second,
	}
	if path != "" {
		r.paths = []string{path}
	}
	for _, m := range messages {
		r.messages[strings.TrimSpace(m)] = struct{}{}
	}
	return r, nil
}

// Run opens the trace pipe and consumes it until ctx is done or the pipe fails
func (r *Reader) Run(ctx context.Context) error {
	f, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	// trace_pipe is pollable, closing it unblocks the pending read
	stop := context.AfterFunc(ctx, func() { f.Close() })
	defer stop()

	err = r.Consume(ctx, f)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (r *Reader) open(ctx context.Context) (*os.File, error) {
	var f *os.File
	op := func() error {
		var errs []error
		for _, p := range r.paths {
			file, err := os.Open(p)
			if err == nil {
				log.Debugf("reading trace pipe %s", p)
				f = file
				return nil
			}
			if errors.Is(err, fs.ErrPermission) {
				return backoff.Permanent(fmt.Errorf("open %s: %w", p, err))
			}
			errs = append(errs, err)
		}
		return fmt.Errorf("no trace pipe available: %w", errors.Join(errs...))
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = r.MaxOpenElapsed
	notify := func(err error, next time.Duration) {
		log.Debugf("trace pipe not ready, retrying in %s: %s", next, err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, err
	}
	return f, nil
}

// Consume reads trace lines from rd until EOF, an error, or ctx is done
func (r *Reader) Consume(ctx context.Context, rd io.Reader) error {
	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		r.dispatch(scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("reading trace pipe: %w", err)
	}
	return nil
}

func (r *Reader) dispatch(raw string) {
	if strings.TrimSpace(raw) == "" {
		return
	}
	line, err := ParseLine(raw)
	if err != nil {
		r.parseErrors.Inc()
		// lines of other tracers land here too
		if log.ShouldLog(seelog.TraceLvl) {
			log.Tracef("skipping trace line: %s", err)
		}
		return
	}
	if line.Lost {
		// the kernel does not always say how many
		lost := line.LostEvents
		if lost == 0 {
			lost = 1
		}
		r.lostEvents.Add(lost)
		log.Debugf("trace pipe lost events on cpu %d", line.CPU)
		return
	}

	msg := strings.TrimSpace(strings.TrimSuffix(line.Message, `\n`))
	if _, ok := r.messages[msg]; !ok {
		return
	}
	r.events.Inc()
	r.handler(Event{
		Comm:      line.Comm,
		PID:       line.PID,
		CPU:       line.CPU,
		Timestamp: line.Timestamp,
		Message:   msg,
	})
}

// Stats returns a snapshot of the reader counters
func (r *Reader) Stats() ReaderStats {
	return ReaderStats{
		Events:      r.events.Load(),
		LostEvents:  r.lostEvents.Load(),
		ParseErrors: r.parseErrors.Load(),
	}
}
