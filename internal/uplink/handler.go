package uplink

import (
	"context"
	"fmt"
	"time"

	"github.com/brunobpinto/smart-trashcans/internal/metrics"
	"github.com/brunobpinto/smart-trashcans/internal/state"
	"github.com/brunobpinto/smart-trashcans/internal/storage"
	"github.com/brunobpinto/smart-trashcans/log2"
	"github.com/juju/errors"
)

// Reason labels uplink_rejected_total.
type Reason string

const (
	ReasonBadJSON          Reason = "bad_json"
	ReasonBadPayload       Reason = "bad_payload"
	ReasonMissingPayload   Reason = "missing_payload"
	ReasonMissingField     Reason = "missing_field"
	ReasonUnknownUser      Reason = "unknown_user"
	ReasonUnknownTrashcan  Reason = "unknown_trashcan"
	ReasonUnknownOperation Reason = "unknown_operation"
	ReasonStoreError       Reason = "store_error"
)

// RejectError means message was dropped without creating a record.
type RejectError struct {
	Reason Reason
	Err    error
}

func reject(r Reason, err error) *RejectError { return &RejectError{Reason: r, Err: err} }

func (e *RejectError) Error() string { return fmt.Sprintf("rejected reason=%s: %v", e.Reason, e.Err) }
func (e *RejectError) Unwrap() error { return e.Err }

// ReasonOf returns rejection reason or empty string.
func ReasonOf(err error) Reason {
	if re, ok := errors.Cause(err).(*RejectError); ok {
		return re.Reason
	}
	return ""
}

// Handler turns decoded uplinks into storage records.
// One message creates at most one record, duplicates are not detected.
type Handler struct {
	log       *log2.Log
	store     storage.Store
	state     *state.State
	decodeRaw bool
	now       func() time.Time
}

func NewHandler(log *log2.Log, store storage.Store, st *state.State, decodeRaw bool) *Handler {
	return &Handler{
		log:       log,
		store:     store,
		state:     st,
		decodeRaw: decodeRaw,
		now:       time.Now,
	}
}

// Handle never panics on input, every drop is logged and counted.
func (self *Handler) Handle(ctx context.Context, topic string, payload []byte) error {
	if self.state != nil {
		self.state.LastUplink.SetNow()
	}
	deviceID, p, err := ParseEnvelope(payload, self.decodeRaw)
	if err == nil {
		switch p.Operation {
		case OperationCleanup:
			err = self.cleanup(ctx, p)
		case OperationStatus:
			err = self.status(ctx, p)
		default:
			err = reject(ReasonUnknownOperation, errors.Errorf("operation=%q", p.Operation))
		}
		if err == nil {
			metrics.UplinkReceived.WithLabelValues(p.Operation).Inc()
			self.log.Debugf("uplink topic=%s device=%s operation=%s ok", topic, deviceID, p.Operation)
			return nil
		}
	}

	reason := ReasonOf(err)
	if reason == "" {
		reason = ReasonStoreError
		err = reject(reason, err)
	}
	metrics.UplinkRejected.WithLabelValues(string(reason)).Inc()
	if reason == ReasonUnknownOperation {
		self.log.Infof("uplink topic=%s device=%s ignored: %v", topic, deviceID, err)
	} else {
		self.log.Errorf("uplink topic=%s device=%s dropped: %v", topic, deviceID, err)
	}
	return err
}

func (self *Handler) cleanup(ctx context.Context, p *Payload) error {
	if p.RFIDTag == nil || p.TrashcanName == nil {
		return reject(ReasonMissingField, errors.Errorf("CLEANUP requires rfidTag and trashcanName"))
	}
	user, err := self.store.UserByRFID(ctx, *p.RFIDTag)
	if err != nil {
		return lookupError(ReasonUnknownUser, err)
	}
	bin, err := self.store.TrashcanByName(ctx, *p.TrashcanName)
	if err != nil {
		return lookupError(ReasonUnknownTrashcan, err)
	}
	c := &storage.Cleanup{TrashcanID: bin.ID, UserID: user.ID, CreatedAt: self.now()}
	if err = self.store.CreateCleanup(ctx, c); err != nil {
		return errors.Annotate(err, "create cleanup")
	}
	self.log.Infof("cleanup trashcan=%s user=%s id=%s", bin.Name, user.Name, c.ID)
	return nil
}

func (self *Handler) status(ctx context.Context, p *Payload) error {
	if p.TrashcanName == nil || p.FillPercent == nil || p.UsageCount == nil {
		return reject(ReasonMissingField, errors.Errorf("STATUS requires trashcanName, fillPercent and usageCount"))
	}
	bin, err := self.store.TrashcanByName(ctx, *p.TrashcanName)
	if err != nil {
		return lookupError(ReasonUnknownTrashcan, err)
	}
	now := self.now()
	s := &storage.Status{
		TrashcanID:  bin.ID,
		CapacityPct: *p.FillPercent,
		UseCount:    *p.UsageCount,
		Hour:        now,
		CreatedAt:   now,
	}
	if err = self.store.CreateStatus(ctx, s); err != nil {
		return errors.Annotate(err, "create status")
	}
	self.log.Infof("status trashcan=%s fill=%.1f usage=%d id=%s", bin.Name, s.CapacityPct, s.UseCount, s.ID)
	return nil
}

func lookupError(r Reason, err error) error {
	if errors.IsNotFound(err) {
		return reject(r, err)
	}
	return errors.Annotate(err, "lookup")
}
