// Package downlink delivers employee sync frames to every configured device.
//
// Publisher contract:
// - one fresh broker connection per target per frame, closed after publish
// - targets run concurrently, a failing target never blocks the others
// - Publish returns when every target published or failed
// - no broker or topic configured: silent no-op
package downlink

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/brunobpinto/smart-trashcans/internal/config"
	"github.com/brunobpinto/smart-trashcans/internal/frame"
	"github.com/brunobpinto/smart-trashcans/internal/metrics"
	"github.com/brunobpinto/smart-trashcans/internal/state"
	"github.com/brunobpinto/smart-trashcans/internal/transport"
	"github.com/brunobpinto/smart-trashcans/log2"
	"github.com/google/uuid"
	"github.com/juju/errors"
)

type Publisher struct {
	log    *log2.Log
	dialer transport.Dialer
	cfg    config.Mqtt
	state  *state.State
}

// Result lists device ids by outcome, sorted.
type Result struct {
	Published []string
	Failed    []string
}

// AllFailed is true when there were targets and none succeeded.
func (r Result) AllFailed() bool { return len(r.Published) == 0 && len(r.Failed) != 0 }

func NewPublisher(log *log2.Log, dialer transport.Dialer, cfg config.Mqtt, st *state.State) *Publisher {
	return &Publisher{log: log, dialer: dialer, cfg: cfg, state: st}
}

func (self *Publisher) Enabled() bool { return self.cfg.DownlinkEnabled() }

func (self *Publisher) Publish(ctx context.Context, f frame.Frame, targets []string) Result {
	var r Result
	if !self.Enabled() || len(targets) == 0 {
		self.log.Debugf("downlink disabled or no targets, skip frame=%x", []byte(f))
		return r
	}
	payload, err := frame.Wrap(f)
	if err != nil {
		self.log.Errorf("downlink wrap frame=%x err=%v", []byte(f), err)
		r.Failed = append(r.Failed, targets...)
		return r
	}

	tbegin := time.Now()
	mu := sync.Mutex{}
	wg := sync.WaitGroup{}
	for _, id := range targets {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := self.publishOne(ctx, id, payload)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				self.log.Errorf("downlink device=%s err=%v", id, err)
				metrics.DownlinkTargets.WithLabelValues("fail").Inc()
				r.Failed = append(r.Failed, id)
				return
			}
			metrics.DownlinkTargets.WithLabelValues("ok").Inc()
			r.Published = append(r.Published, id)
		}(id)
	}
	wg.Wait()
	metrics.DownlinkDuration.Observe(time.Since(tbegin).Seconds())
	sort.Strings(r.Published)
	sort.Strings(r.Failed)
	if len(r.Published) != 0 && self.state != nil {
		self.state.LastDownlink.SetNow()
	}
	self.log.Infof("downlink frame=%x published=%v failed=%v", []byte(f), r.Published, r.Failed)
	return r
}

func (self *Publisher) publishOne(ctx context.Context, deviceID string, payload []byte) error {
	opt := transport.Options{
		BrokerURL:      self.cfg.BrokerURL,
		Username:       self.cfg.Username,
		Password:       self.cfg.Password,
		ClientID:       self.clientID(deviceID),
		ConnectTimeout: self.cfg.ConnectTimeout(),
		Keepalive:      self.cfg.Keepalive(),
	}
	conn, err := self.dialer.Dial(ctx, opt)
	if err != nil {
		return errors.Trace(err)
	}
	defer conn.Close()
	topic := self.cfg.DownlinkTopicFor(deviceID)
	if err = conn.Publish(ctx, topic, payload); err != nil {
		return errors.Trace(err)
	}
	self.log.Debugf("downlink device=%s topic=%s payload=%s", deviceID, topic, payload)
	return nil
}

// clientID is unique per connection, broker kicks duplicates.
func (self *Publisher) clientID(deviceID string) string {
	return fmt.Sprintf("%s-down-%s-%s", self.cfg.ClientID, deviceID, uuid.NewString()[:8])
}
