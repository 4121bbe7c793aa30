// Package state holds process-wide running flags of long-lived activities.
// One State is created at bootstrap and passed by reference, so several
// bridges in one process (tests) never share flags.
package state

import (
	"sync"
	"time"

	"github.com/temoto/atomic_clock"
)

type Activity string

const (
	ActivityListener  Activity = "listener"
	ActivityScheduler Activity = "scheduler"
	ActivityWorker    Activity = "worker"
)

type Listener int32

const (
	ListenerUnconfigured Listener = iota
	ListenerConnecting
	ListenerSubscribed
	ListenerReconnecting
	ListenerClosed
)

var listenerNames = [...]string{"unconfigured", "connecting", "subscribed", "reconnecting", "closed"}

func (l Listener) String() string {
	if l < 0 || int(l) >= len(listenerNames) {
		return "invalid"
	}
	return listenerNames[l]
}

type State struct {
	mu       sync.Mutex
	running  map[Activity]bool
	listener Listener

	LastUplink   *atomic_clock.Clock
	LastDownlink *atomic_clock.Clock
	LastReport   *atomic_clock.Clock
}

func New() *State {
	return &State{
		running:      make(map[Activity]bool, 4),
		LastUplink:   atomic_clock.New(),
		LastDownlink: atomic_clock.New(),
		LastReport:   atomic_clock.New(),
	}
}

// TryStart marks activity running, false if it already was.
func (self *State) TryStart(a Activity) bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.running[a] {
		return false
	}
	self.running[a] = true
	return true
}

func (self *State) Finish(a Activity) {
	self.mu.Lock()
	delete(self.running, a)
	self.mu.Unlock()
}

func (self *State) Running(a Activity) bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.running[a]
}

func (self *State) SetListener(l Listener) Listener {
	self.mu.Lock()
	defer self.mu.Unlock()
	prev := self.listener
	self.listener = l
	return prev
}

// CompareSetListener changes listener state only from expected one.
func (self *State) CompareSetListener(expect, l Listener) bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.listener != expect {
		return false
	}
	self.listener = l
	return true
}

func (self *State) Listener() Listener {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.listener
}

type Snapshot struct {
	Listener     string          `json:"listener"`
	Running      map[string]bool `json:"running"`
	LastUplink   *time.Time      `json:"last_uplink,omitempty"`
	LastDownlink *time.Time      `json:"last_downlink,omitempty"`
	LastReport   *time.Time      `json:"last_report,omitempty"`
}

func (self *State) Snapshot() Snapshot {
	self.mu.Lock()
	s := Snapshot{
		Listener: self.listener.String(),
		Running:  make(map[string]bool, len(self.running)),
	}
	for a, r := range self.running {
		s.Running[string(a)] = r
	}
	self.mu.Unlock()
	s.LastUplink = clockTime(self.LastUplink)
	s.LastDownlink = clockTime(self.LastDownlink)
	s.LastReport = clockTime(self.LastReport)
	return s
}

func clockTime(c *atomic_clock.Clock) *time.Time {
	if c.IsZero() {
		return nil
	}
	// clock counts from process epoch, wall time is derived
	t := time.Now().Add(-atomic_clock.Since(c)).Truncate(time.Millisecond)
	return &t
}
