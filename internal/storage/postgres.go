package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/brunobpinto/smart-trashcans/log2"
	"github.com/google/uuid"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
)

// Table and column names follow the web application schema, quoted identifiers.
const (
	sqlUserByRFID = `SELECT "id", "name", COALESCE("rfidTag", ''), "role"
	FROM "User" WHERE UPPER("rfidTag") = UPPER($1) LIMIT 1`
	sqlTrashcanByName = `SELECT "id", "name", COALESCE("location", ''), COALESCE("description", '')
	FROM "Trashcan" WHERE "name" = $1 LIMIT 1`
	sqlCreateCleanup = `INSERT INTO "Cleanup" ("id", "trashcanId", "userId", "createdAt")
	VALUES ($1, $2, $3, $4)`
	sqlCreateStatus = `INSERT INTO "Status" ("id", "trashcanId", "capacityPct", "useCount", "hour", "createdAt")
	VALUES ($1, $2, $3, $4, $5, $6)`
	sqlLatestStatuses = `SELECT DISTINCT ON (s."trashcanId")
	  t."id", t."name", COALESCE(t."location", ''), COALESCE(t."description", ''),
	  s."id", s."capacityPct", s."useCount", s."hour", s."createdAt"
	FROM "Status" s JOIN "Trashcan" t ON t."id" = s."trashcanId"
	ORDER BY s."trashcanId", s."hour" DESC, s."createdAt" DESC`
)

type Postgres struct {
	log *log2.Log
	db  *sql.DB

	insertCleanup *sql.Stmt
	insertStatus  *sql.Stmt
}

func OpenPostgres(ctx context.Context, log *log2.Log, url string, maxOpen int) (*Postgres, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, errors.Annotate(err, "postgres open")
	}
	if maxOpen <= 0 {
		maxOpen = 4
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Annotate(err, "postgres ping")
	}
	self := &Postgres{log: log, db: db}
	if self.insertCleanup, err = db.PrepareContext(ctx, sqlCreateCleanup); err != nil {
		self.Close()
		return nil, errors.Annotate(err, "postgres prepare cleanup")
	}
	if self.insertStatus, err = db.PrepareContext(ctx, sqlCreateStatus); err != nil {
		self.Close()
		return nil, errors.Annotate(err, "postgres prepare status")
	}
	log.Infof("postgres connected max_open_conns=%d", maxOpen)
	return self, nil
}

func (self *Postgres) Close() error {
	for _, stmt := range []*sql.Stmt{self.insertCleanup, self.insertStatus} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return self.db.Close()
}

func (self *Postgres) UserByRFID(ctx context.Context, tag string) (User, error) {
	var u User
	err := self.db.QueryRowContext(ctx, sqlUserByRFID, tag).Scan(&u.ID, &u.Name, &u.RFIDTag, &u.Role)
	if err == sql.ErrNoRows {
		return u, errors.NotFoundf("user rfidTag=%q", tag)
	}
	return u, errors.Annotate(err, "postgres user by rfid")
}

func (self *Postgres) TrashcanByName(ctx context.Context, name string) (Trashcan, error) {
	var t Trashcan
	err := self.db.QueryRowContext(ctx, sqlTrashcanByName, name).Scan(&t.ID, &t.Name, &t.Location, &t.Description)
	if err == sql.ErrNoRows {
		return t, errors.NotFoundf("trashcan name=%q", name)
	}
	return t, errors.Annotate(err, "postgres trashcan by name")
}

func (self *Postgres) CreateCleanup(ctx context.Context, c *Cleanup) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := self.insertCleanup.ExecContext(ctx, c.ID, c.TrashcanID, c.UserID, c.CreatedAt)
	return errors.Annotate(err, "postgres insert cleanup")
}

func (self *Postgres) CreateStatus(ctx context.Context, s *Status) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err := self.insertStatus.ExecContext(ctx, s.ID, s.TrashcanID, s.CapacityPct, s.UseCount, s.Hour, s.CreatedAt)
	return errors.Annotate(err, "postgres insert status")
}

func (self *Postgres) LatestStatuses(ctx context.Context) ([]TrashcanStatus, error) {
	rows, err := self.db.QueryContext(ctx, sqlLatestStatuses)
	if err != nil {
		return nil, errors.Annotate(err, "postgres latest statuses")
	}
	defer rows.Close()

	out := make([]TrashcanStatus, 0, 16)
	for rows.Next() {
		var ts TrashcanStatus
		if err := rows.Scan(
			&ts.Trashcan.ID, &ts.Trashcan.Name, &ts.Trashcan.Location, &ts.Trashcan.Description,
			&ts.Status.ID, &ts.Status.CapacityPct, &ts.Status.UseCount, &ts.Status.Hour, &ts.Status.CreatedAt,
		); err != nil {
			return nil, errors.Annotate(err, "postgres scan status")
		}
		ts.Status.TrashcanID = ts.Trashcan.ID
		out = append(out, ts)
	}
	return out, errors.Annotate(rows.Err(), "postgres latest statuses")
}
