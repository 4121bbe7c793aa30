// Package uplink keeps one persistent subscription to device uplinks and
// dispatches each message to Handler.
//
// Listener states: unconfigured -> connecting -> subscribed <-> reconnecting -> closed.
// Subscribe failure keeps connecting, paho reconnect repeats subscribe.
package uplink

import (
	"context"
	"sync"

	"github.com/brunobpinto/smart-trashcans/internal/config"
	"github.com/brunobpinto/smart-trashcans/internal/metrics"
	"github.com/brunobpinto/smart-trashcans/internal/state"
	"github.com/brunobpinto/smart-trashcans/internal/transport"
	"github.com/brunobpinto/smart-trashcans/log2"
)

type Listener struct {
	log     *log2.Log
	dialer  transport.Dialer
	cfg     config.Mqtt
	handler *Handler
	state   *state.State

	mu     sync.Mutex
	conn   transport.Conn
	closed bool
	done   chan struct{}
}

func NewListener(log *log2.Log, dialer transport.Dialer, cfg config.Mqtt, h *Handler, st *state.State) *Listener {
	return &Listener{
		log:     log,
		dialer:  dialer,
		cfg:     cfg,
		handler: h,
		state:   st,
		done:    make(chan struct{}),
	}
}

// Start returns without blocking on network. No-op when unconfigured,
// already started or closed. ctx bounds message handling, its cancel closes listener.
func (self *Listener) Start(ctx context.Context) {
	if !self.cfg.UplinkEnabled() {
		self.setState(state.ListenerUnconfigured)
		self.log.Infof("uplink disabled: broker_url or uplink_topic not configured")
		return
	}
	if !self.state.TryStart(state.ActivityListener) {
		self.log.Debugf("uplink listener already running")
		return
	}
	self.mu.Lock()
	if self.closed {
		self.mu.Unlock()
		self.state.Finish(state.ActivityListener)
		return
	}
	self.mu.Unlock()
	self.setState(state.ListenerConnecting)

	topic := self.cfg.UplinkTopic
	opt := transport.Options{
		BrokerURL:      self.cfg.BrokerURL,
		Username:       self.cfg.Username,
		Password:       self.cfg.Password,
		ClientID:       self.cfg.ClientID + "-up",
		ConnectTimeout: self.cfg.ConnectTimeout(),
		Keepalive:      self.cfg.Keepalive(),
		Persistent:     true,
		Events: transport.Events{
			OnConnect: func(conn transport.Conn) { self.onConnect(ctx, conn, topic) },
			OnError: func(err error) {
				self.log.Errorf("uplink connect err=%v", err)
			},
			OnClose: func(err error) {
				self.log.Infof("uplink connection lost, reconnecting err=%v", err)
				// lost before subscribe stays connecting
				self.moveState(state.ListenerSubscribed, state.ListenerReconnecting)
			},
		},
	}
	conn, err := self.dialer.Dial(ctx, opt)
	if err != nil {
		self.log.Errorf("uplink dial err=%v", err)
		self.Close()
		return
	}
	self.mu.Lock()
	closed := self.closed
	if !closed {
		self.conn = conn
	}
	self.mu.Unlock()
	if closed {
		conn.Close()
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			self.Close()
		case <-self.done:
		}
	}()
}

func (self *Listener) onConnect(ctx context.Context, conn transport.Conn, topic string) {
	self.setState(state.ListenerConnecting)
	err := conn.Subscribe(ctx, topic, func(t string, payload []byte) {
		_ = self.handler.Handle(ctx, t, payload)
	})
	if err != nil {
		self.log.Errorf("uplink subscribe topic=%s err=%v", topic, err)
		return
	}
	self.log.Infof("uplink subscribed topic=%s", topic)
	self.setState(state.ListenerSubscribed)
}

func (self *Listener) State() state.Listener { return self.state.Listener() }

// Close is final, listener can not be started again.
func (self *Listener) Close() {
	self.mu.Lock()
	if self.closed {
		self.mu.Unlock()
		return
	}
	self.state.SetListener(state.ListenerClosed)
	metrics.UplinkState.Set(float64(state.ListenerClosed))
	self.closed = true
	close(self.done)
	conn := self.conn
	self.conn = nil
	self.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	self.state.Finish(state.ActivityListener)
}

// setState ignores transitions after Close.
func (self *Listener) setState(l state.Listener) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.closed {
		return
	}
	self.state.SetListener(l)
	metrics.UplinkState.Set(float64(l))
}

func (self *Listener) moveState(from, to state.Listener) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.closed {
		return
	}
	if self.state.CompareSetListener(from, to) {
		metrics.UplinkState.Set(float64(to))
	}
}
