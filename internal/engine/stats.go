package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// stats is owned by the statsLoop goroutine. Everything else mutates it by
// sending closures to the loop.
type stats struct {
	checks        int64
	opportunities int64
	trades        int64
	unwinds       int64
	merges        int64
	bestSpread    decimal.Decimal
	hasBest       bool
	balance       decimal.Decimal
	recent        []domain.CheckSummary
	recentLimit   int
	markets       int
	scanMode      string
	lastUpdate    time.Time
	lastStream    time.Time
}

func (s *stats) addCheck(c domain.CheckSummary) {
	s.recent = append(s.recent, c)
	if over := len(s.recent) - s.recentLimit; over > 0 {
		s.recent = append(s.recent[:0:0], s.recent[over:]...)
	}
}

func (s *stats) snapshot(now time.Time, freshness time.Duration) domain.EngineSnapshot {
	recent := make([]domain.CheckSummary, len(s.recent))
	copy(recent, s.recent)
	return domain.EngineSnapshot{
		ScanMode:       s.scanMode,
		MarketsCount:   s.markets,
		Checks:         s.checks,
		Opportunities:  s.opportunities,
		TradesExecuted: s.trades,
		Unwinds:        s.unwinds,
		Merges:         s.merges,
		BestSpread:     s.bestSpread,
		Balance:        s.balance,
		RecentChecks:   recent,
		StreamUp:       !s.lastStream.IsZero() && now.Sub(s.lastStream) < freshness,
		LastUpdate:     s.lastUpdate,
	}
}

// statsLoop serialises every stats mutation through one goroutine. Queries
// travel the same channel, so a query sees every update sent before it.
type statsLoop struct {
	ops       chan func(*stats)
	quit      chan struct{}
	done      chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once

	st        stats
	freshness time.Duration
	now       func() time.Time
}

func newStatsLoop(recentLimit int, freshness time.Duration) *statsLoop {
	return &statsLoop{
		ops:       make(chan func(*stats), 256),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		st:        stats{recentLimit: recentLimit},
		freshness: freshness,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (l *statsLoop) start() {
	l.startOnce.Do(func() {
		l.started.Store(true)
		go l.run()
	})
}

// stop applies every pending update, then ends the loop.
func (l *statsLoop) stop() {
	l.stopOnce.Do(func() { close(l.quit) })
	if l.started.Load() {
		<-l.done
	}
}

func (l *statsLoop) run() {
	defer close(l.done)
	for {
		select {
		case op := <-l.ops:
			op(&l.st)
		case <-l.quit:
			for {
				select {
				case op := <-l.ops:
					op(&l.st)
				default:
					return
				}
			}
		}
	}
}

// record queues op. Updates sent after the loop has stopped are dropped.
func (l *statsLoop) record(op func(*stats)) {
	select {
	case l.ops <- op:
	case <-l.done:
	case <-l.quit:
	}
}

// query returns a snapshot of the stats. Before the loop starts and after
// it stops, the zero snapshot or the final state is returned directly.
func (l *statsLoop) query() domain.EngineSnapshot {
	if !l.started.Load() {
		return l.st.snapshot(l.now(), l.freshness)
	}
	select {
	case <-l.done:
		return l.st.snapshot(l.now(), l.freshness)
	default:
	}
	reply := make(chan domain.EngineSnapshot, 1)
	op := func(s *stats) { reply <- s.snapshot(l.now(), l.freshness) }
	select {
	case l.ops <- op:
	case <-l.done:
		return l.st.snapshot(l.now(), l.freshness)
	}
	select {
	case snap := <-reply:
		return snap
	case <-l.done:
		select {
		case snap := <-reply:
			return snap
		default:
			return l.st.snapshot(l.now(), l.freshness)
		}
	}
}
