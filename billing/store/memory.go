// Package store provides an in-memory billing.Store.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/bill-engine/billing"
	"github.com/warp/bill-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.Mutex
	locks sync.Map // billing.BillID -> *sync.Mutex
	data  memoryData

	now func() time.Time
}

type memoryData struct {
	bills       map[billing.BillID]billing.Bill
	occurrences map[billing.OccurrenceID]billing.Occurrence
	bySequence  map[sequenceKey]billing.OccurrenceID
	approvals   map[approvalKey]billing.Approval
}

type sequenceKey struct {
	BillID   billing.BillID
	Sequence int
}

type approvalKey struct {
	OccurrenceID billing.OccurrenceID
	ApproverID   string
}

func NewMemory() *Memory {
	return &Memory{
		data: memoryData{
			bills:       make(map[billing.BillID]billing.Bill),
			occurrences: make(map[billing.OccurrenceID]billing.Occurrence),
			bySequence:  make(map[sequenceKey]billing.OccurrenceID),
			approvals:   make(map[approvalKey]billing.Approval),
		},
		now: time.Now,
	}
}

// view runs the store operations against data that the caller has locked.
type view struct {
	m *Memory
}

func (m *Memory) locked(fn func(v view) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(view{m: m})
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	return m.locked(func(v view) error {
		return v.WithTx(ctx, fn)
	})
}

// WithBillLock serializes callers on billID, then runs fn in a transaction.
func (m *Memory) WithBillLock(ctx context.Context, billID billing.BillID, fn func(billing.Store) error) error {
	l, _ := m.locks.LoadOrStore(billID, &sync.Mutex{})
	billLock := l.(*sync.Mutex)
	billLock.Lock()
	defer billLock.Unlock()

	return m.WithTx(ctx, fn)
}

func (v view) WithTx(_ context.Context, fn func(billing.Store) error) error {
	snapshot := v.m.data.clone()
	if err := fn(v); err != nil {
		v.m.data = snapshot
		return err
	}
	return nil
}

// WithBillLock inside a transaction: the store lock is already held.
func (v view) WithBillLock(ctx context.Context, _ billing.BillID, fn func(billing.Store) error) error {
	return v.WithTx(ctx, fn)
}

func (d memoryData) clone() memoryData {
	c := memoryData{
		bills:       make(map[billing.BillID]billing.Bill, len(d.bills)),
		occurrences: make(map[billing.OccurrenceID]billing.Occurrence, len(d.occurrences)),
		bySequence:  make(map[sequenceKey]billing.OccurrenceID, len(d.bySequence)),
		approvals:   make(map[approvalKey]billing.Approval, len(d.approvals)),
	}
	for k, v := range d.bills {
		c.bills[k] = v
	}
	for k, v := range d.occurrences {
		c.occurrences[k] = v
	}
	for k, v := range d.bySequence {
		c.bySequence[k] = v
	}
	for k, v := range d.approvals {
		c.approvals[k] = v
	}
	return c
}

// =============================================================================
// BILLS
// =============================================================================

func (m *Memory) SaveBill(ctx context.Context, bill billing.Bill) error {
	return m.locked(func(v view) error { return v.SaveBill(ctx, bill) })
}

func (m *Memory) GetBill(ctx context.Context, id billing.BillID) (out billing.Bill, err error) {
	err = m.locked(func(v view) error {
		out, err = v.GetBill(ctx, id)
		return err
	})
	return out, err
}

func (m *Memory) ListBills(ctx context.Context, filter billing.BillFilter) (out []billing.Bill, err error) {
	err = m.locked(func(v view) error {
		out, err = v.ListBills(ctx, filter)
		return err
	})
	return out, err
}

func (v view) SaveBill(_ context.Context, bill billing.Bill) error {
	now := v.m.now().UTC()
	if prev, ok := v.m.data.bills[bill.ID]; ok {
		bill.CreatedAt = prev.CreatedAt
	} else if bill.CreatedAt.IsZero() {
		bill.CreatedAt = now
	}
	bill.UpdatedAt = now
	if bill.Rule != nil {
		rule := *bill.Rule
		bill.Rule = &rule
	}
	v.m.data.bills[bill.ID] = bill
	return nil
}

func (v view) GetBill(_ context.Context, id billing.BillID) (billing.Bill, error) {
	bill, ok := v.m.data.bills[id]
	if !ok {
		return billing.Bill{}, &generic.NotFoundError{Kind: "bill", ID: string(id)}
	}
	return bill, nil
}

func (v view) ListBills(_ context.Context, filter billing.BillFilter) ([]billing.Bill, error) {
	var out []billing.Bill
	for _, b := range v.m.data.bills {
		if filter.OrgID != "" && b.OrgID != filter.OrgID {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// OCCURRENCES
// =============================================================================

func (m *Memory) ListOccurrences(ctx context.Context, billID billing.BillID) (out []billing.Occurrence, err error) {
	err = m.locked(func(v view) error {
		out, err = v.ListOccurrences(ctx, billID)
		return err
	})
	return out, err
}

func (m *Memory) GetOccurrence(ctx context.Context, id billing.OccurrenceID) (out billing.Occurrence, err error) {
	err = m.locked(func(v view) error {
		out, err = v.GetOccurrence(ctx, id)
		return err
	})
	return out, err
}

func (m *Memory) FindOccurrences(ctx context.Context, filter billing.OccurrenceFilter) (out []billing.Occurrence, err error) {
	err = m.locked(func(v view) error {
		out, err = v.FindOccurrences(ctx, filter)
		return err
	})
	return out, err
}

func (m *Memory) UpsertOccurrences(ctx context.Context, occurrences []billing.Occurrence) error {
	return m.locked(func(v view) error { return v.UpsertOccurrences(ctx, occurrences) })
}

func (m *Memory) DeleteScheduledAfter(ctx context.Context, billID billing.BillID, maxSequence int) (n int, err error) {
	err = m.locked(func(v view) error {
		n, err = v.DeleteScheduledAfter(ctx, billID, maxSequence)
		return err
	})
	return n, err
}

func (m *Memory) DueOccurrences(ctx context.Context, asOf generic.Date) (out []billing.DueOccurrence, err error) {
	err = m.locked(func(v view) error {
		out, err = v.DueOccurrences(ctx, asOf)
		return err
	})
	return out, err
}

func (m *Memory) TransitionOccurrences(ctx context.Context, ids []billing.OccurrenceID, from, to billing.OccurrenceState) (moved []billing.OccurrenceID, err error) {
	err = m.locked(func(v view) error {
		moved, err = v.TransitionOccurrences(ctx, ids, from, to)
		return err
	})
	return moved, err
}

func (v view) ListOccurrences(ctx context.Context, billID billing.BillID) ([]billing.Occurrence, error) {
	return v.FindOccurrences(ctx, billing.OccurrenceFilter{BillID: billID})
}

func (v view) GetOccurrence(_ context.Context, id billing.OccurrenceID) (billing.Occurrence, error) {
	o, ok := v.m.data.occurrences[id]
	if !ok {
		return billing.Occurrence{}, &generic.NotFoundError{Kind: "occurrence", ID: string(id)}
	}
	return o, nil
}

func (v view) FindOccurrences(_ context.Context, filter billing.OccurrenceFilter) ([]billing.Occurrence, error) {
	var out []billing.Occurrence
	for _, o := range v.m.data.occurrences {
		if matches(o, filter) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if filter.BillID == "" && !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if a.BillID != b.BillID {
			return a.BillID < b.BillID
		}
		return a.Sequence < b.Sequence
	})
	return out, nil
}

func matches(o billing.Occurrence, f billing.OccurrenceFilter) bool {
	if f.OrgID != "" && o.OrgID != f.OrgID {
		return false
	}
	if f.BillID != "" && o.BillID != f.BillID {
		return false
	}
	if !(generic.Period{Start: f.DueFrom, End: f.DueTo}).Contains(o.DueDate) {
		return false
	}
	if len(f.States) > 0 {
		for _, s := range f.States {
			if o.State == s {
				return true
			}
		}
		return false
	}
	return true
}

func (v view) UpsertOccurrences(_ context.Context, occurrences []billing.Occurrence) error {
	now := v.m.now().UTC()
	for _, o := range occurrences {
		key := sequenceKey{BillID: o.BillID, Sequence: o.Sequence}
		if id, ok := v.m.data.bySequence[key]; ok {
			prev := v.m.data.occurrences[id]
			o.ID = prev.ID
			o.CreatedAt = prev.CreatedAt
		} else {
			if _, taken := v.m.data.occurrences[o.ID]; taken || o.ID == "" {
				return &generic.StorageError{Op: "upsert occurrences", Err: generic.ErrConflict}
			}
			o.CreatedAt = now
		}
		o.UpdatedAt = now
		v.m.data.occurrences[o.ID] = o
		v.m.data.bySequence[key] = o.ID
	}
	return nil
}

func (v view) DeleteScheduledAfter(_ context.Context, billID billing.BillID, maxSequence int) (int, error) {
	n := 0
	for id, o := range v.m.data.occurrences {
		if o.BillID == billID && o.Sequence > maxSequence && o.State == billing.StateScheduled {
			delete(v.m.data.occurrences, id)
			delete(v.m.data.bySequence, sequenceKey{BillID: o.BillID, Sequence: o.Sequence})
			n++
		}
	}
	return n, nil
}

func (v view) DueOccurrences(_ context.Context, asOf generic.Date) ([]billing.DueOccurrence, error) {
	var out []billing.DueOccurrence
	for _, o := range v.m.data.occurrences {
		if o.State != billing.StateScheduled || o.DueDate.After(asOf) {
			continue
		}
		due := billing.DueOccurrence{Occurrence: o}
		if b, ok := v.m.data.bills[o.BillID]; ok {
			flag := b.AutoApprove
			due.AutoApprove = &flag
		}
		out = append(out, due)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v view) TransitionOccurrences(_ context.Context, ids []billing.OccurrenceID, from, to billing.OccurrenceState) ([]billing.OccurrenceID, error) {
	now := v.m.now().UTC()
	var moved []billing.OccurrenceID
	for _, id := range ids {
		o, ok := v.m.data.occurrences[id]
		if !ok || o.State != from {
			continue
		}
		o.State = to
		o.UpdatedAt = now
		v.m.data.occurrences[id] = o
		moved = append(moved, id)
	}
	return moved, nil
}

// =============================================================================
// APPROVALS
// =============================================================================

func (m *Memory) UpsertApproval(ctx context.Context, approval billing.Approval) (out billing.Approval, err error) {
	err = m.locked(func(v view) error {
		out, err = v.UpsertApproval(ctx, approval)
		return err
	})
	return out, err
}

func (m *Memory) ListApprovals(ctx context.Context, occurrenceID billing.OccurrenceID) (out []billing.Approval, err error) {
	err = m.locked(func(v view) error {
		out, err = v.ListApprovals(ctx, occurrenceID)
		return err
	})
	return out, err
}

func (v view) UpsertApproval(_ context.Context, approval billing.Approval) (billing.Approval, error) {
	key := approvalKey{OccurrenceID: approval.OccurrenceID, ApproverID: approval.ApproverID}
	if prev, ok := v.m.data.approvals[key]; ok {
		approval.ID = prev.ID
	}
	v.m.data.approvals[key] = approval
	return approval, nil
}

func (v view) ListApprovals(_ context.Context, occurrenceID billing.OccurrenceID) ([]billing.Approval, error) {
	var out []billing.Approval
	for _, a := range v.m.data.approvals {
		if a.OccurrenceID == occurrenceID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedAt.Before(out[j].DecidedAt) })
	return out, nil
}
