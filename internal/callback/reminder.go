package callback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/metrics"
)

const reminderBatch = 100

// Reminder sweeps due callbacks on a cron schedule.
type Reminder struct {
	svc     *Service
	cron    string
	metrics *metrics.Metrics

	mu      sync.Mutex
	running bool
}

func NewReminder(svc *Service, cron string, m *metrics.Metrics) (*Reminder, error) {
	if cron == "" {
		cron = "* * * * *"
	}
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("callback reminder: invalid cron %q", cron)
	}
	return &Reminder{svc: svc, cron: cron, metrics: m}, nil
}

// Run blocks until ctx is done.
func (r *Reminder) Run(ctx context.Context) {
	logger.Infof("callback reminder: cron=%q", r.cron)
	for {
		next, err := gronx.NextTickAfter(r.cron, time.Now(), false)
		if err != nil {
			logger.Errorf("callback reminder: next tick: %v", err)
			next = time.Now().Add(30 * time.Second)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep unless one is already in progress.
func (r *Reminder) RunOnce(ctx context.Context) int {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return 0
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := r.svc.RemindDue(sweepCtx, reminderBatch)
	if err != nil {
		logger.Errorf("callback reminder: %v", err)
		return 0
	}
	for i := 0; i < n; i++ {
		r.metrics.CallbackReminded()
	}
	if n > 0 {
		logger.Infof("callback reminder: reminded=%d", n)
	}
	return n
}
