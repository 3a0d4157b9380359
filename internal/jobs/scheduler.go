package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"certportal/internal/tasks"
)

// Scheduler fires the cleanup sweep on a cron schedule. With a queue it
// publishes a task to the stream for a worker; without one it runs the
// sweep in process.
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	queue    *redis.Client
	stream   string
	local    tasks.Sweeper
	now      func() time.Time
	log      zerolog.Logger
}

func NewScheduler(schedule string, queue *redis.Client, stream string, local tasks.Sweeper, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		schedule: schedule,
		queue:    queue,
		stream:   stream,
		local:    local,
		now:      time.Now,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if s.queue == nil && s.local == nil {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.runCleanup); err != nil {
		return fmt.Errorf("schedule cleanup %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Bool("queued", s.queue != nil).Msg("cleanup scheduled")
	return nil
}

// Stop halts the schedule. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if s.queue != nil {
		if err := s.enqueueTask(ctx, tasks.TypeCleanupExpired); err != nil {
			s.log.Error().Err(err).Msg("enqueue cleanup failed")
		}
		return
	}

	report, err := s.local.SweepExpired(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("cleanup sweep failed")
		return
	}
	s.log.Info().Int("removed", report.Removed).Msg("cleanup sweep finished")
}

func (s *Scheduler) enqueueTask(ctx context.Context, taskType string) error {
	_, err := s.queue.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"type":        taskType,
			"requestedAt": s.now().UTC().Format(time.RFC3339),
		},
	}).Result()
	return err
}
