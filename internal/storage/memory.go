package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
)

// Memory is Store for development without database and for tests.
type Memory struct {
	mu        sync.RWMutex
	users     []User
	trashcans []Trashcan
	cleanups  []Cleanup
	statuses  []Status
	now       func() time.Time
}

func NewMemory() *Memory { return &Memory{now: time.Now} }

func (self *Memory) AddUser(u User) User {
	self.mu.Lock()
	defer self.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	self.users = append(self.users, u)
	return u
}

func (self *Memory) AddTrashcan(t Trashcan) Trashcan {
	self.mu.Lock()
	defer self.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	self.trashcans = append(self.trashcans, t)
	return t
}

func (self *Memory) UserByRFID(ctx context.Context, tag string) (User, error) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	for _, u := range self.users {
		if u.RFIDTag != "" && strings.EqualFold(u.RFIDTag, tag) {
			return u, nil
		}
	}
	return User{}, errors.NotFoundf("user rfidTag=%q", tag)
}

func (self *Memory) TrashcanByName(ctx context.Context, name string) (Trashcan, error) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	for _, t := range self.trashcans {
		if t.Name == name {
			return t, nil
		}
	}
	return Trashcan{}, errors.NotFoundf("trashcan name=%q", name)
}

func (self *Memory) CreateCleanup(ctx context.Context, c *Cleanup) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = self.now()
	}
	self.cleanups = append(self.cleanups, *c)
	return nil
}

func (self *Memory) CreateStatus(ctx context.Context, s *Status) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = self.now()
	}
	self.statuses = append(self.statuses, *s)
	return nil
}

func (self *Memory) LatestStatuses(ctx context.Context) ([]TrashcanStatus, error) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	latest := make(map[string]Status, len(self.trashcans))
	for _, s := range self.statuses {
		// same hour: later insert wins, as createdAt DESC in postgres
		if prev, ok := latest[s.TrashcanID]; !ok || !s.Hour.Before(prev.Hour) {
			latest[s.TrashcanID] = s
		}
	}
	out := make([]TrashcanStatus, 0, len(latest))
	for _, t := range self.trashcans {
		if s, ok := latest[t.ID]; ok {
			out = append(out, TrashcanStatus{Trashcan: t, Status: s})
		}
	}
	return out, nil
}

func (self *Memory) Cleanups() []Cleanup {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return append([]Cleanup(nil), self.cleanups...)
}

func (self *Memory) Statuses() []Status {
	self.mu.RLock()
	defer self.mu.RUnlock()
	out := append([]Status(nil), self.statuses...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Hour.Before(out[j].Hour) })
	return out
}
