// Package report periodically sends fill level ranking to Telegram.
//
// Scheduler contract:
// - Start is idempotent, no-op when notifier is not configured
// - first cycle after warmup, then every interval
// - any failure is logged, next tick tries again
package report

import (
	"context"
	"time"

	"github.com/brunobpinto/smart-trashcans/internal/config"
	"github.com/brunobpinto/smart-trashcans/internal/metrics"
	"github.com/brunobpinto/smart-trashcans/internal/notify"
	"github.com/brunobpinto/smart-trashcans/internal/state"
	"github.com/brunobpinto/smart-trashcans/internal/storage"
	"github.com/brunobpinto/smart-trashcans/log2"
	"github.com/juju/errors"
)

type Scheduler struct {
	log      *log2.Log
	store    storage.Store
	notifier notify.Notifier
	cfg      config.Report
	state    *state.State
	now      func() time.Time
	warmup   time.Duration
	interval time.Duration
}

// NewScheduler with nil notifier makes Start a no-op.
func NewScheduler(log *log2.Log, store storage.Store, n notify.Notifier, cfg config.Report, st *state.State) *Scheduler {
	return &Scheduler{
		log:      log,
		store:    store,
		notifier: n,
		cfg:      cfg,
		state:    st,
		now:      time.Now,
		warmup:   cfg.Warmup(),
		interval: cfg.Interval(),
	}
}

func (self *Scheduler) Enabled() bool { return self.notifier != nil && self.store != nil }

// Start runs scheduler in background until ctx is done.
func (self *Scheduler) Start(ctx context.Context) {
	if self.tryStart() {
		go self.run(ctx)
	}
}

// Run is blocking Start, returns when ctx is done.
func (self *Scheduler) Run(ctx context.Context) {
	if self.tryStart() {
		self.run(ctx)
	}
}

func (self *Scheduler) tryStart() bool {
	if !self.Enabled() {
		self.log.Infof("report disabled: telegram not configured")
		return false
	}
	if !self.state.TryStart(state.ActivityScheduler) {
		self.log.Debugf("report scheduler already running")
		return false
	}
	return true
}

func (self *Scheduler) run(ctx context.Context) {
	defer self.state.Finish(state.ActivityScheduler)
	self.log.Infof("report scheduler warmup=%v interval=%v", self.warmup, self.interval)

	timer := time.NewTimer(self.warmup)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	_ = self.Cycle(ctx)

	ticker := time.NewTicker(self.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = self.Cycle(ctx)
		}
	}
}

// Cycle reads latest statuses, renders and sends one message.
func (self *Scheduler) Cycle(ctx context.Context) error {
	statuses, err := self.store.LatestStatuses(ctx)
	if err != nil {
		err = errors.Annotate(err, "report read statuses")
		self.log.Error(err)
		metrics.ReportsSent.WithLabelValues("fail").Inc()
		return err
	}
	text := Render(Build(statuses, self.cfg.Top, self.now()))
	if err = self.notifier.Send(ctx, text); err != nil {
		err = errors.Annotate(err, "report send")
		self.log.Error(err)
		metrics.ReportsSent.WithLabelValues("fail").Inc()
		return err
	}
	metrics.ReportsSent.WithLabelValues("ok").Inc()
	self.state.LastReport.SetNow()
	self.log.Infof("report sent trashcans=%d", len(statuses))
	return nil
}
