// Package storage is the narrow persistence interface the bridge consumes.
// Schema is owned by the web application; this package never migrates.
package storage

import (
	"context"
	"time"
)

type User struct {
	ID      string
	Name    string
	RFIDTag string
	Role    string
}

type Trashcan struct {
	ID          string
	Name        string
	Location    string
	Description string
}

// Cleanup is one bin emptying by one worker.
type Cleanup struct {
	ID         string
	TrashcanID string
	UserID     string
	CreatedAt  time.Time
}

// Status is periodic bin snapshot, Hour is server receipt time.
type Status struct {
	ID          string
	TrashcanID  string
	CapacityPct float64
	UseCount    int
	Hour        time.Time
	CreatedAt   time.Time
}

// TrashcanStatus is the newest Status of one trashcan with descriptive fields.
type TrashcanStatus struct {
	Trashcan Trashcan
	Status   Status
}

// Store lookups return errors.NotFound (github.com/juju/errors) for missing keys.
type Store interface {
	UserByRFID(ctx context.Context, tag string) (User, error)
	TrashcanByName(ctx context.Context, name string) (Trashcan, error)
	CreateCleanup(ctx context.Context, c *Cleanup) error
	CreateStatus(ctx context.Context, s *Status) error
	// LatestStatuses returns newest status per trashcan, trashcans without status omitted.
	LatestStatuses(ctx context.Context) ([]TrashcanStatus, error)
}
