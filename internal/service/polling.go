// Package service provides the polling service that reads configured tags
// from the PLC session and hands the values to a publisher.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hadefuwa/PLC-App-Flutter/internal/domain"
	"github.com/hadefuwa/PLC-App-Flutter/internal/metrics"
	"github.com/rs/zerolog"
)

// TagReader reads symbolic addresses from the PLC. *s7.Manager implements it.
type TagReader interface {
	ReadSymbol(ctx context.Context, symbol string) (interface{}, error)
	HealthCheck(ctx context.Context) error
}

// Publisher receives the values of a poll cycle. It must not block.
type Publisher interface {
	PublishTagValues(values []domain.TagValue)
}

// Poll cycle results, used as the metrics label.
const (
	PollSuccess = "success"
	PollPartial = "partial"
	PollFailed  = "failed"
	PollSkipped = "skipped"
)

// PollingService polls a fixed set of tags through the PLC session. Each
// read takes the session lock on its own, between API requests.
type PollingService struct {
	config    PollingConfig
	reader    TagReader
	publisher Publisher
	logger    zerolog.Logger
	metrics   *metrics.Registry
	started   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stats     *PollingStats

	mu        sync.RWMutex
	lastPoll  time.Time
	lastError error
}

// PollingConfig holds configuration for the polling service.
type PollingConfig struct {
	Interval    time.Duration
	ReadTimeout time.Duration
	Tags        []domain.Tag
}

// PollingStats tracks polling statistics.
type PollingStats struct {
	TotalPolls      atomic.Uint64
	SuccessPolls    atomic.Uint64
	FailedPolls     atomic.Uint64
	SkippedPolls    atomic.Uint64 // session not connected
	TagErrors       atomic.Uint64
	PointsRead      atomic.Uint64
	PointsPublished atomic.Uint64
}

// NewPollingService creates a new polling service.
func NewPollingService(
	config PollingConfig,
	reader TagReader,
	publisher Publisher,
	logger zerolog.Logger,
	metricsReg *metrics.Registry,
) (*PollingService, error) {
	if len(config.Tags) == 0 {
		return nil, fmt.Errorf("%w: polling needs at least one tag", domain.ErrInvalidConfig)
	}
	for _, tag := range config.Tags {
		if err := tag.Validate(); err != nil {
			return nil, err
		}
	}

	// Apply defaults
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 5 * time.Second
	}

	return &PollingService{
		config:    config,
		reader:    reader,
		publisher: publisher,
		logger:    logger.With().Str("component", "polling-service").Logger(),
		metrics:   metricsReg,
		stats:     &PollingStats{},
	}, nil
}

// Start begins polling in the background. Calling Start on a running
// service does nothing.
func (s *PollingService) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	pollCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.logger.Info().
		Int("tags", len(s.config.Tags)).
		Dur("interval", s.config.Interval).
		Msg("Starting polling service")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		// Initial poll
		s.Poll(pollCtx)

		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				s.Poll(pollCtx)
			}
		}
	}()

	return nil
}

// Stop stops polling and waits for the current cycle until ctx expires.
func (s *PollingService) Stop(ctx context.Context) error {
	if !s.started.Load() {
		return nil
	}

	s.logger.Info().Msg("Stopping polling service")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Poller stopped")
	case <-ctx.Done():
		s.logger.Warn().Msg("Timeout waiting for poller to stop")
	}

	s.started.Store(false)
	return nil
}

// Poll runs one poll cycle and returns its result. A cycle is skipped
// while the session is not connected.
func (s *PollingService) Poll(ctx context.Context) string {
	start := time.Now()

	if err := s.reader.HealthCheck(ctx); err != nil {
		s.stats.SkippedPolls.Add(1)
		s.setLastError(err)
		s.metrics.RecordPoll(PollSkipped, time.Since(start).Seconds(), 0)
		s.logger.Debug().Err(err).Msg("Poll skipped: session not available")
		return PollSkipped
	}

	s.stats.TotalPolls.Add(1)

	values := make([]domain.TagValue, 0, len(s.config.Tags))
	var (
		tagErrors int
		lastErr   error
	)
	for _, tag := range s.config.Tags {
		value, err := s.readTag(ctx, tag)
		if err != nil {
			tagErrors++
			lastErr = err
			s.logger.Warn().
				Err(err).
				Str("tag", tag.Name).
				Str("address", tag.Address).
				Msg("Failed to read tag")
			if errors.Is(err, domain.ErrNotConnected) || errors.Is(err, context.Canceled) {
				// The rest of the cycle would fail the same way
				break
			}
			continue
		}
		values = append(values, domain.TagValue{
			Name:      tag.Name,
			Address:   tag.Address,
			Value:     value,
			Timestamp: time.Now(),
		})
	}

	s.stats.PointsRead.Add(uint64(len(values)))
	s.stats.TagErrors.Add(uint64(tagErrors))

	if len(values) > 0 {
		s.publisher.PublishTagValues(values)
		s.stats.PointsPublished.Add(uint64(len(values)))
	}

	result := PollSuccess
	switch {
	case tagErrors == 0:
		s.stats.SuccessPolls.Add(1)
	case len(values) > 0:
		result = PollPartial
		s.stats.SuccessPolls.Add(1)
	default:
		result = PollFailed
		s.stats.FailedPolls.Add(1)
	}

	s.mu.Lock()
	s.lastPoll = time.Now()
	s.lastError = lastErr
	s.mu.Unlock()

	duration := time.Since(start)
	s.metrics.RecordPoll(result, duration.Seconds(), tagErrors)

	s.logger.Debug().
		Int("tags_read", len(values)).
		Int("tag_errors", tagErrors).
		Dur("duration", duration).
		Msg("Poll cycle completed")

	return result
}

func (s *PollingService) readTag(ctx context.Context, tag domain.Tag) (interface{}, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.config.ReadTimeout)
	defer cancel()
	return s.reader.ReadSymbol(readCtx, tag.Address)
}

func (s *PollingService) setLastError(err error) {
	s.mu.Lock()
	s.lastError = err
	s.mu.Unlock()
}

// Status holds the outcome of the most recent poll cycle.
type Status struct {
	Running   bool
	LastPoll  time.Time
	LastError error
}

// Status returns the outcome of the most recent poll cycle.
func (s *PollingService) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Running:   s.started.Load(),
		LastPoll:  s.lastPoll,
		LastError: s.lastError,
	}
}

// StatsSnapshot holds a point-in-time snapshot of polling statistics.
type StatsSnapshot struct {
	TotalPolls      uint64
	SuccessPolls    uint64
	FailedPolls     uint64
	SkippedPolls    uint64
	TagErrors       uint64
	PointsRead      uint64
	PointsPublished uint64
}

// Stats returns a snapshot of the polling service statistics.
func (s *PollingService) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalPolls:      s.stats.TotalPolls.Load(),
		SuccessPolls:    s.stats.SuccessPolls.Load(),
		FailedPolls:     s.stats.FailedPolls.Load(),
		SkippedPolls:    s.stats.SkippedPolls.Load(),
		TagErrors:       s.stats.TagErrors.Load(),
		PointsRead:      s.stats.PointsRead.Load(),
		PointsPublished: s.stats.PointsPublished.Load(),
	}
}
