// services/scheduler.go
package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

// StartExpirySweeper schedules SweepExpired every interval. Enqueue also sweeps; this job keeps
// abandoned tickets from holding parties in Queued when nobody else enqueues.
func (s *MatchmakingService) StartExpirySweeper(ctx context.Context, interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithClock(s.Clock))
	if err != nil {
		return nil, eris.Wrap(err, "failed to create scheduler")
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			swept, err := s.SweepExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("[Scheduler] expiry sweep failed")
				return
			}
			if swept > 0 {
				log.Info().Int("swept", swept).Msg("[Scheduler] expired tickets cancelled")
			}
		}),
		gocron.WithName("ticket-expiry-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, eris.Wrap(err, "failed to schedule expiry sweep")
	}

	sched.Start()
	return sched, nil
}
