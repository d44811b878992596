// services/scheduler.go
package services

import (
	"os"
	"strconv"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// StartMaintenanceScheduler runs the periodic housekeeping jobs: open
// quarantine items older than PENDING_TTL_DAYS are expired so the review
// queue does not accumulate dead names.
func (s *PendingService) StartMaintenanceScheduler() {
	ttl := 14 * 24 * time.Hour
	if raw := os.Getenv("PENDING_TTL_DAYS"); raw != "" {
		if days, err := strconv.Atoi(raw); err == nil && days > 0 {
			ttl = time.Duration(days) * 24 * time.Hour
		}
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		logrus.WithError(err).Error("[Scheduler] Failed to create scheduler")
		return
	}
	sched.Start()

	_, err = sched.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() {
			expired, err := s.ExpireStale(ttl)
			if err != nil {
				logrus.WithError(err).Error("[Scheduler] Pending expiry sweep failed")
				return
			}
			if expired > 0 {
				logrus.WithField("expired", expired).Info("[Scheduler] Expired stale pending entries")
			}
		}),
	)
	if err != nil {
		logrus.WithError(err).Error("[Scheduler] Failed to register expiry job")
	}
}
