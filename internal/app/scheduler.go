/**
 * @description
 * Cron scheduler for the engine's background jobs: the auto-renewal sweep,
 * which renews lapsing subscriptions off the due list, and the cleanup job,
 * which drops expired entries from the active-subscriber index.
 */

package app

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"
)

// renewalActor is the principal the scheduler runs renewals as. It must be
// granted the renewal bot role at bootstrap.
const renewalActor = "renewal-scheduler"

// SchedulerConfig holds the cron expressions and batch size for the jobs.
type SchedulerConfig struct {
	RenewalSchedule string // e.g. "*/15 * * * *"
	CleanupSchedule string // e.g. "30 3 * * *"
	RenewalBatch    int
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	service *Service
	config  SchedulerConfig
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(service *Service, cfg SchedulerConfig) *Scheduler {
	cronLogger := cron.PrintfLogger(log.New(os.Stdout, "component=scheduler ", log.LstdFlags))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:    c,
		service: service,
		config:  cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.RenewalSchedule, s.runRenewalSweep); err != nil {
		log.Printf("level=error component=scheduler msg=\"failed to schedule renewal sweep\" err=%v", err)
	} else {
		log.Printf("level=info component=scheduler msg=\"scheduled renewal sweep\" schedule=%q", s.config.RenewalSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.CleanupSchedule, s.runCleanup); err != nil {
		log.Printf("level=error component=scheduler msg=\"failed to schedule subscription cleanup\" err=%v", err)
	} else {
		log.Printf("level=info component=scheduler msg=\"scheduled subscription cleanup\" schedule=%q", s.config.CleanupSchedule)
	}

	s.cron.Start()
}

// runRenewalSweep renews every due subscription. One failed renewal never
// stops the sweep; failures are logged and the config is retried on the next
// pass while its subscription has not lapsed past recovery.
func (s *Scheduler) runRenewalSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	due, err := s.service.RenewalsDue(ctx, time.Now().Add(time.Hour), s.config.RenewalBatch)
	if err != nil {
		log.Printf("level=error component=scheduler msg=\"renewal due list failed\" err=%v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	log.Printf("level=info component=scheduler msg=\"renewal sweep started\" due=%d", len(due))
	var renewed, failed int
	for _, cfg := range due {
		if err := s.service.ExecuteAutoRenewal(ctx, renewalActor, cfg.User, cfg.Creator); err != nil {
			failed++
			log.Printf("level=warn component=scheduler msg=\"renewal failed\" user=%s creator=%s err=%v",
				cfg.User.Hex(), cfg.Creator.Hex(), err)
			continue
		}
		renewed++
	}
	log.Printf("level=info component=scheduler msg=\"renewal sweep finished\" renewed=%d failed=%d", renewed, failed)
}

// runCleanup drops lapsed entries from the active-subscriber index.
func (s *Scheduler) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.service.CleanupExpiredSubscriptions(ctx); err != nil {
		log.Printf("level=error component=scheduler msg=\"subscription cleanup failed\" err=%v", err)
	}
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
