package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/rsvphub/internal/domain/delivery"
)

type deliveryRow struct {
	kind      string
	recipient string
	status    delivery.Status
	lastError string
	updatedAt time.Time
	sends     int
}

// Deliveries is the in-process delivery.Ledger.
type Deliveries struct {
	mu   sync.Mutex
	rows map[string]*deliveryRow

	Now func() time.Time
}

func NewDeliveries() *Deliveries {
	return &Deliveries{rows: make(map[string]*deliveryRow), Now: time.Now}
}

func (d *Deliveries) TryStart(_ context.Context, jobID, kind, recipient string, staleAfter time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.Now()
	r, ok := d.rows[jobID]
	if !ok {
		d.rows[jobID] = &deliveryRow{kind: kind, recipient: recipient, status: delivery.StatusSending, updatedAt: now, sends: 1}
		return nil
	}

	switch r.status {
	case delivery.StatusSent, delivery.StatusSkipped:
		return delivery.ErrAlreadySent
	case delivery.StatusSending:
		if now.Sub(r.updatedAt) < staleAfter {
			return delivery.ErrInProgress
		}
	}

	r.status = delivery.StatusSending
	r.recipient = recipient
	r.updatedAt = now
	r.sends++
	return nil
}

func (d *Deliveries) MarkSent(_ context.Context, jobID string) error {
	return d.set(jobID, delivery.StatusSent, "")
}

func (d *Deliveries) MarkSkipped(_ context.Context, jobID, reason string) error {
	return d.set(jobID, delivery.StatusSkipped, reason)
}

func (d *Deliveries) MarkFailed(_ context.Context, jobID, errMsg string) error {
	return d.set(jobID, delivery.StatusFailed, errMsg)
}

func (d *Deliveries) set(jobID string, status delivery.Status, msg string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.rows[jobID]
	if !ok {
		r = &deliveryRow{}
		d.rows[jobID] = r
	}
	r.status = status
	r.lastError = msg
	r.updatedAt = d.Now()
	return nil
}

// Status returns the recorded status of a job's delivery, or "" if unknown.
func (d *Deliveries) Status(jobID string) delivery.Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.rows[jobID]; ok {
		return r.status
	}
	return ""
}
