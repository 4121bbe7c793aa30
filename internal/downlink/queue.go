package downlink

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/brunobpinto/smart-trashcans/helpers"
	"github.com/brunobpinto/smart-trashcans/internal/config"
	"github.com/brunobpinto/smart-trashcans/internal/frame"
	"github.com/brunobpinto/smart-trashcans/internal/state"
	"github.com/brunobpinto/smart-trashcans/log2"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/spq"
)

type Employee struct {
	Name    string `json:"name"`
	RFIDTag string `json:"rfidTag"`
	Role    string `json:"role"`
}

type EventKind string

const (
	EmployeeCreated EventKind = "created"
	EmployeeDeleted EventKind = "deleted"
	EmployeeUpdated EventKind = "updated"
)

// Event is the persistent queue item.
type Event struct {
	Kind     EventKind `json:"kind"`
	Employee Employee  `json:"employee"`
	// Previous is only used with EmployeeUpdated
	Previous *Employee `json:"previous,omitempty"`
	// Attempt counts failed deliveries of the queue head, not persisted
	Attempt  int       `json:"-"`
}

// Frames returns downlink frames to deliver, in order. Empty for events
// without RFID tag or updates that changed neither tag nor role.
func (e *Event) Frames() []frame.Frame {
	tag := strings.TrimSpace(e.Employee.RFIDTag)
	switch e.Kind {
	case EmployeeCreated:
		if tag == "" {
			return nil
		}
		return []frame.Frame{frame.EncodeInsert(tag, e.Employee.Role)}

	case EmployeeDeleted:
		if tag == "" {
			return nil
		}
		return []frame.Frame{frame.EncodeDelete(tag)}

	case EmployeeUpdated:
		prev := Employee{}
		if e.Previous != nil {
			prev = *e.Previous
		}
		prevTag := strings.TrimSpace(prev.RFIDTag)
		if prevTag != "" && frame.ParseIdentity(prevTag) == frame.ParseIdentity(tag) &&
			frame.ParseRole(prev.Role) == frame.ParseRole(e.Employee.Role) {
			return nil
		}
		fs := make([]frame.Frame, 0, 2)
		if prevTag != "" {
			fs = append(fs, frame.EncodeDelete(prevTag))
		}
		if tag != "" {
			fs = append(fs, frame.EncodeInsert(tag, e.Employee.Role))
		}
		return fs
	}
	return nil
}

// Emitter accepts employee domain events. Implementations return as soon
// as event is durably queued, delivery happens in background.
type Emitter interface {
	EmployeeCreated(e Employee) error
	EmployeeDeleted(e Employee) error
	EmployeeUpdated(prev, next Employee) error
}

// Queue contract:
// - Emit* methods block at most for disk write
// - worker delivers events one at a time in queue order
// - event with every target failed is retried at queue head until MaxAttempts,
//   later events wait
type Queue struct {
	log         *log2.Log
	q           *spq.Queue
	pub         *Publisher
	targets     []string
	maxAttempts int
	state       *state.State
	stopCh      chan struct{}
	stopOnce    sync.Once
	backoff     *helpers.Backoff
}

var _ Emitter = (*Queue)(nil)

func OpenQueue(log *log2.Log, cfg config.Queue, pub *Publisher, targets []string, st *state.State) (*Queue, error) {
	path := cfg.Path
	if path == "" {
		path = spq.OnlyForTesting
		log.Infof("downlink queue path empty, events are kept in memory only")
	}
	q, err := spq.Open(path)
	if err != nil {
		return nil, errors.Annotatef(err, "downlink queue path=%s", cfg.Path)
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &Queue{
		log:         log,
		q:           q,
		pub:         pub,
		targets:     targets,
		maxAttempts: attempts,
		state:       st,
		stopCh:      make(chan struct{}),
		backoff:     helpers.NewBackoff(cfg.RetryDelay(), 5*time.Minute, 2),
	}, nil
}

func (self *Queue) EmployeeCreated(e Employee) error {
	return self.push(Event{Kind: EmployeeCreated, Employee: e})
}

func (self *Queue) EmployeeDeleted(e Employee) error {
	return self.push(Event{Kind: EmployeeDeleted, Employee: e})
}

func (self *Queue) EmployeeUpdated(prev, next Employee) error {
	return self.push(Event{Kind: EmployeeUpdated, Employee: next, Previous: &prev})
}

func (self *Queue) push(e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return errors.Annotate(err, "downlink queue marshal")
	}
	self.log.Debugf("downlink queue push %s", b)
	return errors.Annotate(self.q.Push(b), "downlink queue push")
}

// Run is the worker loop, returns after Close.
func (self *Queue) Run(a *alive.Alive) {
	defer a.Done()
	if self.state != nil {
		if !self.state.TryStart(state.ActivityWorker) {
			self.log.Debugf("downlink worker already running")
			return
		}
		defer self.state.Finish(state.ActivityWorker)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-a.StopChan():
			self.Close()
		case <-self.stopCh:
		}
	}()

	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			b := box.Bytes()
			if !self.deliver(ctx, b) {
				// stopped during retry, event stays at head
				return
			}
			if err = self.q.Delete(box); err != nil {
				self.log.Errorf("downlink queue Delete b=%s err=%v", b, err)
			}

		case spq.ErrClosed:
			select {
			case <-self.stopCh:
			default:
				self.log.Errorf("CRITICAL downlink queue closed unexpectedly")
			}
			return

		default:
			self.log.Errorf("CRITICAL downlink queue err=%v", err)
			return
		}
	}
}

// deliver publishes head event, retrying in place so later events for
// the same tag never overtake it. False means Close interrupted retry.
func (self *Queue) deliver(ctx context.Context, b []byte) bool {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		// retry will not help
		self.log.Errorf("downlink queue unmarshal b=%s err=%v", b, err)
		return true
	}
	for {
		retry, err := self.handle(ctx, &e)
		if err != nil {
			self.log.Errorf("downlink queue b=%s err=%v", b, err)
		}
		// every target down, do not hammer broker
		self.backoff.Update(!retry)
		if !retry {
			return true
		}
		d := self.backoff.Delay()
		self.log.Debugf("downlink retry kind=%s name=%s attempt=%d delay=%v", e.Kind, e.Employee.Name, e.Attempt, d)
		select {
		case <-time.After(d):
		case <-self.stopCh:
			return false
		}
	}
}

// handle publishes event frames once, retry=true when some frame reached
// no target and attempts remain.
func (self *Queue) handle(ctx context.Context, e *Event) (bool, error) {
	fs := e.Frames()
	if len(fs) == 0 {
		self.log.Debugf("downlink skip event kind=%s name=%s: nothing to sync", e.Kind, e.Employee.Name)
		return false, nil
	}
	failed := false
	for _, f := range fs {
		if r := self.pub.Publish(ctx, f, self.targets); r.AllFailed() {
			failed = true
		}
	}
	if !failed {
		return false, nil
	}
	e.Attempt++
	if e.Attempt >= self.maxAttempts {
		return false, errors.Errorf("event kind=%s name=%s every target failed, attempts=%d exhausted", e.Kind, e.Employee.Name, e.Attempt)
	}
	return true, nil
}

func (self *Queue) Close() {
	self.stopOnce.Do(func() {
		close(self.stopCh)
		self.q.Close()
	})
}
