package stats

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/raulk/clock"

	"github.com/storacha/deal-ingester/pkg/protocol"
)

// Stats holds the pipeline counters. All methods are safe for concurrent use.
type Stats struct {
	clock      clock.Clock
	started    time.Time
	total      atomic.Uint64
	advertised atomic.Uint64
	tasks      atomic.Uint64
	bitswap    atomic.Uint64
	graphsync  atomic.Uint64
	http       atomic.Uint64
}

type Option func(*Stats)

// WithClock sets the clock the elapsed time is measured with.
func WithClock(c clock.Clock) Option {
	return func(s *Stats) {
		s.clock = c
	}
}

func New(opts ...Option) *Stats {
	s := &Stats{clock: clock.New()}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.clock.Now()
	return s
}

// AddDeal records an admitted deal and returns the new total.
func (s *Stats) AddDeal() uint64 {
	return s.total.Add(1)
}

// AddAdvertised records a deal with at least one provider result.
func (s *Stats) AddAdvertised() {
	s.advertised.Add(1)
}

// AddTask records a decoded advertisement for protocol p.
func (s *Stats) AddTask(p protocol.Protocol) {
	s.tasks.Add(1)
	switch p {
	case protocol.Bitswap:
		s.bitswap.Add(1)
	case protocol.Graphsync:
		s.graphsync.Add(1)
	case protocol.HTTP:
		s.http.Add(1)
	}
}

// Snapshot is a point in time copy of the counters.
type Snapshot struct {
	Elapsed         time.Duration
	Total           uint64
	Advertised      uint64
	Tasks           uint64
	TasksByProtocol map[protocol.Protocol]uint64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Elapsed:    s.clock.Since(s.started),
		Total:      s.total.Load(),
		Advertised: s.advertised.Load(),
		Tasks:      s.tasks.Load(),
		TasksByProtocol: map[protocol.Protocol]uint64{
			protocol.Bitswap:   s.bitswap.Load(),
			protocol.Graphsync: s.graphsync.Load(),
			protocol.HTTP:      s.http.Load(),
		},
	}
}

// Ratio formats n as a whole percentage of total, or "--" when total is 0.
func Ratio(n, total uint64) string {
	if total == 0 {
		return "--"
	}
	return fmt.Sprintf("%d", n*100/total)
}

// Report writes the human readable summary printed at the end of a run.
func (s Snapshot) Report(w io.Writer, output string) {
	fmt.Fprintf(w, "Finished in %.3f seconds\n", s.Elapsed.Seconds())
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Retrieval tasks were written to %s\n", output)
	fmt.Fprintf(w, "Total CIDs:  %d\n", s.Total)
	fmt.Fprintf(w, "Advertised:  %d\n", s.Advertised)
	fmt.Fprintf(w, "Ratio:       %s%%\n", Ratio(s.Advertised, s.Total))
	fmt.Fprintf(w, "Tasks:       %d\n", s.Tasks)
	for _, p := range protocol.All {
		n := s.TasksByProtocol[p]
		fmt.Fprintf(w, "  %-10s %d (%s%%)\n", string(p)+":", n, Ratio(n, s.Tasks))
	}
}
