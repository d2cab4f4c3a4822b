package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/ikozhura/weather-tracker/internal/weather"
)

// refreshTimeout bounds a single all-cities refresh run.
const refreshTimeout = 5 * time.Minute

// Scheduler drives the recurring all-cities refresh, independent of
// request traffic.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   *weather.Service
	interval  time.Duration
}

// New creates a new Scheduler firing every interval.
func New(interval time.Duration, service *weather.Service) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.Local),
		service:   service,
		interval:  interval,
	}
}

// Start schedules the periodic refresh and starts the underlying
// scheduler. Singleton mode skips a tick that fires while the previous
// run is still active, so at most one all-cities refresh is in flight.
func (s *Scheduler) Start() error {
	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 15
	}

	_, err := s.scheduler.Every(minutes).Minutes().SingletonMode().Do(func() {
		log.Println("scheduler: running all-cities refresh")

		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		if err := s.service.RefreshAll(ctx); err != nil {
			log.Printf("scheduler: all-cities refresh failed: %v", err)
			return
		}
		log.Println("scheduler: completed all-cities refresh")
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future runs. In-flight work is
// abandoned at process shutdown.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
