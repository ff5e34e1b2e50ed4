// Package liveness runs the peer-liveness loop (C7): a long-lived task
// that periodically re-pings every known peer and merges the results
// back into the shared state.
package liveness

import (
	"context"
	"log/slog"
	"time"

	"github.com/distfs/rfspeer/internal/session"
	"github.com/distfs/rfspeer/internal/state"
)

// Loop periodically probes every known peer and merges results into a
// shared state.State. Construct with New and run with Run.
type Loop struct {
	log         *slog.Logger
	state       *state.State
	interval    time.Duration
	dialTimeout time.Duration
	sessionOpts session.Options
}

// New builds a Loop that re-pings every peer in st every interval.
func New(st *state.State, interval, dialTimeout time.Duration, sessionOpts session.Options, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		log:         log.With("component", "liveness"),
		state:       st,
		interval:    interval,
		dialTimeout: dialTimeout,
		sessionOpts: sessionOpts,
	}
}

// Run blocks, probing every known peer every interval until ctx is
// canceled. Each cycle: snapshot addresses under the shared lock,
// release, probe concurrently with no lock held, then merge results
// under the lock once.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.cycle(ctx)
		}
	}
}

func (l *Loop) cycle(ctx context.Context) {
	addrs := l.state.KnownPeerAddresses()
	if len(addrs) == 0 {
		return
	}

	results := l.probeAll(addrs)
	l.state.MergePingResults(results)
}

func (l *Loop) probeAll(addrs []string) map[string]*time.Duration {
	type probeResult struct {
		addr string
		ping *time.Duration
	}

	out := make(chan probeResult, len(addrs))
	for _, addr := range addrs {
		go func(addr string) {
			out <- probeResult{addr: addr, ping: l.probeOne(addr)}
		}(addr)
	}

	results := make(map[string]*time.Duration, len(addrs))
	for range addrs {
		r := <-out
		results[r.addr] = r.ping
	}
	return results
}

func (l *Loop) probeOne(addr string) *time.Duration {
	sess, err := session.Connect(addr, l.dialTimeout, l.sessionOpts, l.log)
	if err != nil {
		l.log.Warn("liveness probe failed to connect", "address", addr, "error", err)
		return nil
	}
	defer sess.Close()

	d, err := sess.Ping()
	if err != nil {
		l.log.Warn("liveness probe ping failed", "address", addr, "error", err)
		return nil
	}

	return &d
}
