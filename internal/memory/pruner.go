package memory

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/corewire/agentkernel/internal/kernellog"
)

// PruneJob describes one scheduled long-term memory prune pass for one
// agent.
type PruneJob struct {
	AgentID   string
	Strategy  PruneStrategy
	Threshold float64
	TTL       time.Duration
	CronExpr  string // e.g. "0 * * * *" — hourly
}

// PruneScheduler runs each registered PruneJob on its own cron schedule
// against a LongTerm store. Pruning is strategy-driven but its triggering
// cadence belongs to the embedding host; cron gives that host a
// declarative way to configure it instead of hand-rolling a ticker per
// agent.
type PruneScheduler struct {
	longTerm *LongTerm
	cron     *cron.Cron
	log      *kernellog.Logger
}

// NewPruneScheduler builds a scheduler around longTerm. log may be nil.
func NewPruneScheduler(longTerm *LongTerm, log *kernellog.Logger) *PruneScheduler {
	return &PruneScheduler{
		longTerm: longTerm,
		cron:     cron.New(),
		log:      log,
	}
}

// Schedule registers job to run on its cadence until the scheduler stops.
// Parse errors in job.CronExpr are returned immediately rather than
// surfacing later from within the cron goroutine.
func (s *PruneScheduler) Schedule(job PruneJob) error {
	_, err := s.cron.AddFunc(job.CronExpr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		affected, err := s.longTerm.Prune(ctx, job.AgentID, job.Strategy, job.Threshold, job.TTL)
		if err != nil {
			if s.log != nil {
				s.log.Warn(ctx, "memory prune failed", "agentId", job.AgentID, "strategy", job.Strategy, "error", err)
			}
			return
		}
		if s.log != nil {
			s.log.Info(ctx, "memory prune completed", "agentId", job.AgentID, "strategy", job.Strategy, "itemsAffected", len(affected))
		}
	})
	return err
}

// Start begins running scheduled jobs in the background.
func (s *PruneScheduler) Start() { s.cron.Start() }

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *PruneScheduler) Stop() { <-s.cron.Stop().Done() }
