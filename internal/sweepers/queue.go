// Package sweepers contains periodic maintenance loops.
package sweepers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nlpgrid/nlp-service/internal/queue"
)

// Retention window for terminal queue items
const purgeRetention = 7 * 24 * time.Hour

// QueueSweeper periodically returns stuck claims to the queue and purges
// old terminal items.
type QueueSweeper struct {
	queue     *queue.Queue
	logger    *zerolog.Logger
	interval  time.Duration
	threshold time.Duration
	stopChan  chan struct{}
}

// NewQueueSweeper creates a sweeper. threshold is how long a claim may
// stay unfinished before it counts as stuck.
func NewQueueSweeper(q *queue.Queue, logger *zerolog.Logger, interval, threshold time.Duration) *QueueSweeper {
	return &QueueSweeper{
		queue:     q,
		logger:    logger,
		interval:  interval,
		threshold: threshold,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (s *QueueSweeper) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Dur("threshold", s.threshold).
		Msg("Starting queue sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Queue sweeper stopping (context cancelled)")
			return
		case <-s.stopChan:
			s.logger.Info().Msg("Queue sweeper stopping (stop signal)")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop
func (s *QueueSweeper) Stop() {
	close(s.stopChan)
}

func (s *QueueSweeper) sweep(ctx context.Context) {
	requeued, failed, err := s.queue.RequeueStuck(ctx, s.threshold)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to requeue stuck items")
	} else if requeued > 0 || failed > 0 {
		s.logger.Info().
			Int("requeued", requeued).
			Int("failed", failed).
			Msg("Recovered stuck queue items")
	}

	purged, err := s.queue.Purge(ctx, purgeRetention)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to purge old queue items")
	} else if purged > 0 {
		s.logger.Debug().Int("purged", purged).Msg("Purged terminal queue items")
	}
}
