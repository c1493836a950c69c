// Package transfers tracks file transfers between endpoints. The backend
// moves the bytes; the coordinator owns the client-side record for each
// transfer, its status machine, and the retention window that keeps finished
// transfers visible before they disappear from the panel.
package transfers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calebmh/termdock/internal/events"
	"github.com/calebmh/termdock/internal/gateway"
	"github.com/calebmh/termdock/internal/model"
	"github.com/calebmh/termdock/internal/util"
)

// Gateway is the subset of the backend gateway the coordinator drives.
type Gateway interface {
	StartTransfer(ctx context.Context, req gateway.TransferRequest) error
	CancelTransfer(ctx context.Context, transferID string) error
	Rename(ctx context.Context, connectionID, oldPath, newPath string) error
}

// ConnectionEnsurer lets the coordinator bring a transfer's remote endpoints
// online before handing the request to the backend.
type ConnectionEnsurer interface {
	Connect(ctx context.Context, id string) error
	Status(id string) model.ConnectionStatus
}

type record struct {
	model.Transfer

	lastSampleAt  time.Time
	lastBytes     int64
	stopRetention func()
}

// Coordinator owns all transfer records. Transitions are run-to-completion
// under the lock; once a transfer reaches a terminal status every later
// transition is ignored.
type Coordinator struct {
	gw      Gateway
	conns   ConnectionEnsurer
	journal *events.Store

	// now and after are swapped out in tests.
	now   func() time.Time
	after func(d time.Duration, fn func()) (stop func())

	mu        sync.Mutex
	transfers map[string]*record
}

// NewCoordinator creates an empty coordinator. journal may be nil.
func NewCoordinator(gw Gateway, conns ConnectionEnsurer, journal *events.Store) *Coordinator {
	return &Coordinator{
		gw:      gw,
		conns:   conns,
		journal: journal,
		now:     time.Now,
		after: func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		},
		transfers: make(map[string]*record),
	}
}

// Add registers a pending transfer and returns its id. Nothing is sent to
// the backend until StartCopy or mark transitions act on it.
func (c *Coordinator) Add(source, destination model.Endpoint, label string) string {
	id := uuid.NewString()
	c.mu.Lock()
	c.transfers[id] = &record{Transfer: model.Transfer{
		ID:          id,
		Source:      source,
		Destination: destination,
		Status:      model.TransferPending,
		Label:       label,
		StartedAt:   c.now(),
	}}
	c.mu.Unlock()
	return id
}

// StartCopy begins moving source to destination. A move within a single
// connection is a plain rename on that host and never creates a transfer
// record; everything else becomes a put, get, or cross-copy depending on
// which side is local. Remote endpoints are connected first if needed.
func (c *Coordinator) StartCopy(ctx context.Context, source, destination model.Endpoint, label string) (string, error) {
	if source.ConnectionID == destination.ConnectionID {
		return "", c.gw.Rename(ctx, source.ConnectionID, source.Path, destination.Path)
	}

	for _, ep := range []model.Endpoint{source, destination} {
		if ep.IsLocal() {
			continue
		}
		if c.conns.Status(ep.ConnectionID) == model.StatusConnected {
			continue
		}
		if err := c.conns.Connect(ctx, ep.ConnectionID); err != nil {
			return "", fmt.Errorf("connect %s: %w", ep.ConnectionID, err)
		}
	}

	var kind gateway.TransferKind
	switch {
	case source.IsLocal():
		kind = gateway.KindPut
	case destination.IsLocal():
		kind = gateway.KindGet
	default:
		kind = gateway.KindCrossCopy
	}

	id := c.Add(source, destination, label)
	err := c.gw.StartTransfer(ctx, gateway.TransferRequest{
		TransferID:  id,
		Kind:        kind,
		Source:      source,
		Destination: destination,
	})
	if err != nil {
		c.Fail(id, err.Error())
		return id, err
	}
	c.appendEvent(events.Event{
		TransferID: id,
		EventType:  events.TypeTransferStarted,
		Message:    label,
	})
	return id, nil
}

// UpdateProgress applies a progress report. Reports for unknown or already
// finished transfers are dropped; the percent is clamped to [0,100] so a
// backend quoting a stale total cannot push the bar past full.
func (c *Coordinator) UpdateProgress(id string, transferred, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.transfers[id]
	if !ok || r.Status.Terminal() {
		return
	}
	now := c.now()
	if !r.lastSampleAt.IsZero() {
		if dt := now.Sub(r.lastSampleAt).Seconds(); dt > 0 {
			r.SpeedBps = float64(transferred-r.lastBytes) / dt
		}
	}
	r.lastSampleAt = now
	r.lastBytes = transferred

	r.Status = model.TransferTransferring
	r.Transferred = transferred
	r.Total = total
	if total > 0 {
		r.Percent = float64(transferred) / float64(total) * 100
	}
	if r.Percent < 0 {
		r.Percent = 0
	}
	if r.Percent > 100 {
		r.Percent = 100
	}
}

// Complete marks the transfer finished. No-op once terminal.
func (c *Coordinator) Complete(id string) {
	if c.finish(id, model.TransferCompleted, "") {
		c.appendEvent(events.Event{TransferID: id, EventType: events.TypeTransferCompleted})
	}
}

// Fail marks the transfer failed with a message. No-op once terminal.
func (c *Coordinator) Fail(id, message string) {
	if c.finish(id, model.TransferFailed, message) {
		c.appendEvent(events.Event{TransferID: id, EventType: events.TypeTransferFailed, Message: message})
	}
}

// Cancel asks the backend to stop the transfer. If the backend refuses the
// cancel, the transfer has raced to completion on the server side and the
// local record is dropped outright rather than left in a status the backend
// no longer agrees with.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	c.mu.Lock()
	r, ok := c.transfers[id]
	terminal := ok && r.Status.Terminal()
	c.mu.Unlock()
	if !ok || terminal {
		return nil
	}

	if err := c.gw.CancelTransfer(ctx, id); err != nil {
		slog.Warn("cancel rejected by backend, dropping record", "transfer", id, "error", err)
		c.Remove(id)
		return nil
	}
	if c.finish(id, model.TransferCancelled, "") {
		c.appendEvent(events.Event{TransferID: id, EventType: events.TypeTransferCancelled})
	}
	return nil
}

// Remove deletes the record immediately, stopping any retention timer.
func (c *Coordinator) Remove(id string) {
	c.mu.Lock()
	r, ok := c.transfers[id]
	if ok {
		delete(c.transfers, id)
	}
	c.mu.Unlock()
	if ok && r.stopRetention != nil {
		r.stopRetention()
	}
}

// HandleEvent applies a backend transfer push to the matching record.
func (c *Coordinator) HandleEvent(ev gateway.TransferEvent) {
	switch ev.Name {
	case gateway.EvTransferProgress:
		c.UpdateProgress(ev.TransferID, ev.Transferred, ev.Total)
	case gateway.EvTransferSuccess:
		c.Complete(ev.TransferID)
	case gateway.EvTransferError:
		c.Fail(ev.TransferID, ev.Message)
	}
}

// Get returns a snapshot of one transfer.
func (c *Coordinator) Get(id string) (model.Transfer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.transfers[id]
	if !ok {
		return model.Transfer{}, false
	}
	return r.Transfer, true
}

// List returns snapshots of all transfers, oldest first.
func (c *Coordinator) List() []model.Transfer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Transfer, 0, len(c.transfers))
	for _, r := range c.transfers {
		out = append(out, r.Transfer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// finish moves the transfer to a terminal status and arms the retention
// timer. Returns false when the transfer is unknown or already terminal.
func (c *Coordinator) finish(id string, status model.TransferStatus, message string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.transfers[id]
	if !ok || r.Status.Terminal() {
		return false
	}
	r.Status = status
	r.Error = message
	r.FinishedAt = c.now()
	if status == model.TransferCompleted {
		r.Percent = 100
		if r.Total > 0 {
			r.Transferred = r.Total
		}
	}
	r.stopRetention = c.after(util.TransferRetention, func() { c.Remove(id) })
	return true
}

func (c *Coordinator) appendEvent(evt events.Event) {
	if c.journal == nil {
		return
	}
	evt.Timestamp = c.now()
	if err := c.journal.Append(evt); err != nil {
		slog.Debug("journal append failed", "error", err)
	}
}
