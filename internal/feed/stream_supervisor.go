package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/metrics"
	"github.com/alanyoungcy/polyarb/internal/platform/polymarket"
)

// DefaultReconnectDelay is the fixed wait between stream connections.
const DefaultReconnectDelay = 5 * time.Second

// PriceChangeHandler is called for each price change on a subscribed token.
type PriceChangeHandler func(ctx context.Context, change domain.PriceChange)

// Stream runs one connection lifetime of a price-change feed.
type Stream interface {
	Run(ctx context.Context, assetIDs []string, handler polymarket.PriceChangeHandler) error
}

// StreamSupervisor keeps a Stream connected for as long as its context
// lives. Connection loss is never fatal: the supervisor waits a fixed delay
// and reconnects with the current asset set.
type StreamSupervisor struct {
	stream     Stream
	assets     func() []string
	onChange   PriceChangeHandler
	delay      time.Duration
	reconnects metrics.Counter
	logger     *slog.Logger
	resub      chan struct{}
}

// NewStreamSupervisor creates a supervisor. assets is consulted before each
// connection so a refreshed market list takes effect on the next connect.
func NewStreamSupervisor(stream Stream, assets func() []string, onChange PriceChangeHandler, reconnects metrics.Counter, logger *slog.Logger) *StreamSupervisor {
	if reconnects == nil {
		reconnects = metrics.NewNoop().StreamReconnects
	}
	return &StreamSupervisor{
		stream:     stream,
		assets:     assets,
		onChange:   onChange,
		delay:      DefaultReconnectDelay,
		reconnects: reconnects,
		logger:     logger.With(slog.String("component", "stream_supervisor")),
		resub:      make(chan struct{}, 1),
	}
}

// SetReconnectDelay changes the wait between connections. Call before Run.
func (s *StreamSupervisor) SetReconnectDelay(d time.Duration) {
	if d > 0 {
		s.delay = d
	}
}

// Resubscribe drops the current connection and reconnects immediately with
// the current asset set. It never blocks.
func (s *StreamSupervisor) Resubscribe() {
	select {
	case s.resub <- struct{}{}:
	default:
	}
}

// Run supervises the stream until ctx is cancelled.
func (s *StreamSupervisor) Run(ctx context.Context) error {
	s.logger.Info("stream supervisor started")
	defer s.logger.Info("stream supervisor stopped")

	for {
		assetIDs := s.assets()
		if len(assetIDs) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.resub:
				continue
			case <-time.After(s.delay):
				continue
			}
		}

		resubscribed, err := s.runOnce(ctx, assetIDs)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if resubscribed {
			s.logger.Info("resubscribing with refreshed asset set", slog.Int("assets", len(s.assets())))
			continue
		}

		s.reconnects.Inc()
		attrs := []any{slog.Duration("delay", s.delay)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		s.logger.Warn("stream disconnected, reconnecting", attrs...)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.delay):
		}
	}
}

func (s *StreamSupervisor) runOnce(ctx context.Context, assetIDs []string) (bool, error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resubscribed := make(chan bool, 1)
	go func() {
		select {
		case <-s.resub:
			resubscribed <- true
			cancel()
		case <-connCtx.Done():
			resubscribed <- false
		}
	}()

	s.logger.Info("stream connecting", slog.Int("assets", len(assetIDs)))
	err := s.stream.Run(connCtx, assetIDs, func(pc domain.PriceChange) {
		s.onChange(ctx, pc)
	})
	cancel()
	return <-resubscribed, err
}
