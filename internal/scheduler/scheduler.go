// Package scheduler drives watch mode: re-pulling every configured symbol on
// a cron spec. Each run is a fresh set of fetch calls; connections are never
// kept open between runs.
package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"chartflow/logger"
)

// Scheduler wraps a cron runner with the refresh task.
type Scheduler struct {
	cron *cron.Cron
	log  *logger.Log
}

func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  logger.GetLogger(),
	}
}

// Register adds the refresh task under the given cron spec
// (seconds-resolution, e.g. "0 */15 * * * *").
func (s *Scheduler) Register(spec string, task func()) error {
	if _, err := s.cron.AddFunc(spec, task); err != nil {
		return fmt.Errorf("register refresh task: %w", err)
	}
	s.log.WithComponent("scheduler").WithFields(logger.Fields{
		"cron": spec,
	}).Info("refresh task registered")
	return nil
}

// Start launches the cron runner in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running task to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.WithComponent("scheduler").Info("scheduler stopped")
}
