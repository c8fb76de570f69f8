package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"savanna-sms/internal/core/domain"
	"savanna-sms/internal/core/port"
)

// In-memory fakes for the persistence and transport ports. They serialize
// every call with a mutex so the concurrency tests exercise the same
// "exactly one winner" guarantees the SQL implementations give.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[int64]*domain.Campaign
}

func newFakeCampaignRepo(cs ...domain.Campaign) *fakeCampaignRepo {
	r := &fakeCampaignRepo{campaigns: map[int64]*domain.Campaign{}}
	for _, c := range cs {
		cc := c
		r.campaigns[c.ID] = &cc
	}
	return r
}

func (r *fakeCampaignRepo) Get(_ context.Context, id int64) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (r *fakeCampaignRepo) MarkSending(_ context.Context, id int64, startedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return false, port.ErrNotFound
	}
	if !c.CanEnqueue() {
		return false, nil
	}
	c.Status = domain.CampaignStatusSending
	c.StartedAt = &startedAt
	return true, nil
}

func (r *fakeCampaignRepo) RevertToDraft(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return port.ErrNotFound
	}
	c.Status = domain.CampaignStatusDraft
	c.StartedAt = nil
	return nil
}

func (r *fakeCampaignRepo) MarkFailed(_ context.Context, id int64, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return port.ErrNotFound
	}
	c.Status = domain.CampaignStatusFailed
	c.Total = total
	return nil
}

func (r *fakeCampaignRepo) SetCounters(_ context.Context, id int64, total, sent, failed int, status domain.CampaignStatus, finishedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return port.ErrNotFound
	}
	c.Total, c.Sent, c.Failed = total, sent, failed
	if status != "" {
		c.Status = status
		c.FinishedAt = finishedAt
	}
	return nil
}

func (r *fakeCampaignRepo) ListDueScheduled(_ context.Context, now time.Time, limit int) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []int64
	for id, c := range r.campaigns {
		if c.Status == domain.CampaignStatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			due = append(due, id)
		}
		if len(due) >= limit {
			break
		}
	}
	return due, nil
}

type fakeMessageRepo struct {
	mu        sync.Mutex
	nextID    int64
	rows      map[int64]*domain.Message
	insertErr error

	// unbilledIDs is what ListUnbilledSent reports; the real query joins
	// against the ledger, which the fake does not model.
	unbilledIDs []int64
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{rows: map[int64]*domain.Message{}}
}

// seed inserts a row directly, bypassing uniqueness, for fixture setup.
func (r *fakeMessageRepo) seed(m domain.Message) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	m.ID = r.nextID
	if m.Status == "" {
		m.Status = domain.MessageStatusQueued
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	r.rows[m.ID] = &m
	return m.ID
}

func (r *fakeMessageRepo) InsertBatch(_ context.Context, msgs []domain.Message) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return nil, r.insertErr
	}
	var ids []int64
	for _, m := range msgs {
		dup := false
		for _, existing := range r.rows {
			if existing.CampaignID == m.CampaignID && existing.ContactID == m.ContactID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		r.nextID++
		m.ID = r.nextID
		m.Status = domain.MessageStatusQueued
		m.CreatedAt = time.Now()
		r.rows[m.ID] = &m
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (r *fakeMessageRepo) GetBatch(_ context.Context, ids []int64) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Message
	for _, id := range ids {
		if m, ok := r.rows[id]; ok {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) MarkSent(_ context.Context, id int64, upstreamID, batchID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok || m.Status != domain.MessageStatusQueued {
		return false, nil
	}
	m.Status = domain.MessageStatusSent
	m.UpstreamID = &upstreamID
	if batchID != "" {
		m.BatchID = &batchID
	}
	m.SentAt = &at
	return true, nil
}

func (r *fakeMessageRepo) MarkFailed(_ context.Context, id int64, reason string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok || m.Status != domain.MessageStatusQueued {
		return false, nil
	}
	m.Status = domain.MessageStatusFailed
	m.ErrorDetail = &reason
	m.FailedAt = &at
	return true, nil
}

func (r *fakeMessageRepo) CountByStatus(_ context.Context, campaignID int64) (domain.MessageCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var counts domain.MessageCounts
	for _, m := range r.rows {
		if m.CampaignID != campaignID {
			continue
		}
		switch m.Status {
		case domain.MessageStatusQueued:
			counts.Queued++
		case domain.MessageStatusSent:
			counts.Sent++
		case domain.MessageStatusFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

func (r *fakeMessageRepo) FindByUpstreamID(_ context.Context, upstreamID string) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rows {
		if m.UpstreamID != nil && *m.UpstreamID == upstreamID {
			mm := *m
			return &mm, nil
		}
	}
	return nil, port.ErrNotFound
}

func (r *fakeMessageRepo) ListStale(_ context.Context, cutoff time.Time, limit int) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Message
	for _, m := range r.rows {
		if m.Status == domain.MessageStatusQueued && m.CreatedAt.Before(cutoff) {
			out = append(out, *m)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) ListUnbilledSent(_ context.Context, _ time.Time, limit int) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Message
	for _, id := range r.unbilledIDs {
		if m, ok := r.rows[id]; ok && m.Status == domain.MessageStatusSent {
			out = append(out, *m)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) get(id int64) domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.rows[id]
}

func (r *fakeMessageRepo) countByCampaign(campaignID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.rows {
		if m.CampaignID == campaignID {
			n++
		}
	}
	return n
}

type fakeTenantRepo struct {
	tenants map[int64]domain.Tenant
}

func (r *fakeTenantRepo) Get(_ context.Context, id int64) (*domain.Tenant, error) {
	t, ok := r.tenants[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &t, nil
}

type ledgerRow struct {
	tenantID int64
	amount   int64
	entry    port.LedgerEntry
}

type fakeLedger struct {
	mu       sync.Mutex
	balances map[int64]int64
	rows     []ledgerRow
	debitErr error
}

func newFakeLedger(balances map[int64]int64) *fakeLedger {
	return &fakeLedger{balances: balances}
}

func isSendDebit(reason string) bool {
	return reason == domain.CreditReasonBulkSend || reason == domain.CreditReasonBackfill
}

func (l *fakeLedger) Balance(_ context.Context, tenantID int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[tenantID], nil
}

func (l *fakeLedger) Debit(_ context.Context, tenantID, amount int64, entry port.LedgerEntry) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.debitErr != nil {
		return l.balances[tenantID], l.debitErr
	}
	if tracking := entry.Meta[domain.MetaKeyTrackingID]; tracking != "" && isSendDebit(entry.Reason) {
		for _, row := range l.rows {
			if row.amount < 0 && isSendDebit(row.entry.Reason) && row.entry.Meta[domain.MetaKeyTrackingID] == tracking {
				return l.balances[tenantID], port.ErrAlreadyBilled
			}
		}
	}
	if l.balances[tenantID]-amount < 0 {
		return l.balances[tenantID], port.ErrInsufficientCredits
	}
	l.balances[tenantID] -= amount
	l.rows = append(l.rows, ledgerRow{tenantID: tenantID, amount: -amount, entry: entry})
	return l.balances[tenantID], nil
}

func (l *fakeLedger) Credit(_ context.Context, tenantID, amount int64, entry port.LedgerEntry) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if session := entry.Meta[domain.MetaKeySessionID]; session != "" {
		for _, row := range l.rows {
			if row.tenantID == tenantID && row.entry.Reason == entry.Reason && row.entry.Meta[domain.MetaKeySessionID] == session {
				return l.balances[tenantID], nil
			}
		}
	}
	l.balances[tenantID] += amount
	l.rows = append(l.rows, ledgerRow{tenantID: tenantID, amount: amount, entry: entry})
	return l.balances[tenantID], nil
}

func (l *fakeLedger) History(_ context.Context, tenantID int64, limit int) ([]domain.CreditTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.CreditTransaction
	for i := len(l.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if l.rows[i].tenantID != tenantID {
			continue
		}
		out = append(out, domain.CreditTransaction{
			TenantID: tenantID,
			Amount:   l.rows[i].amount,
			Reason:   l.rows[i].entry.Reason,
			Meta:     l.rows[i].entry.Meta,
		})
	}
	return out, nil
}

func (l *fakeLedger) debits(reason string) []ledgerRow {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledgerRow
	for _, row := range l.rows {
		if row.amount < 0 && row.entry.Reason == reason {
			out = append(out, row)
		}
	}
	return out
}

func (l *fakeLedger) balance(tenantID int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[tenantID]
}

type fakeAudience struct {
	contacts []domain.Contact
	err      error
}

func (a *fakeAudience) Count(_ context.Context, _ int64, _ domain.AudienceFilter) (int, error) {
	return len(a.contacts), a.err
}

func (a *fakeAudience) Build(_ context.Context, _ int64, _ domain.AudienceFilter) ([]domain.Contact, error) {
	return a.contacts, a.err
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []port.Job
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, job port.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type fakeLimiter struct {
	mu     sync.Mutex
	denied map[string]bool
	calls  []string
}

func (l *fakeLimiter) Check(_ context.Context, scope string, max int, window time.Duration) (domain.RateLimitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, scope)
	if l.denied[scope] {
		return domain.RateLimitResult{Allowed: false, ResetAt: time.Now().Add(window)}, nil
	}
	return domain.RateLimitResult{Allowed: true, Remaining: max - 1, ResetAt: time.Now().Add(window)}, nil
}

type fakeGateway struct {
	mu    sync.Mutex
	calls [][]port.GatewayMessage
	err   error

	// respond overrides the per-message results; by default every message
	// is accepted with a synthetic upstream ID.
	respond func(msgs []port.GatewayMessage) []port.GatewayResult

	lookups map[string]port.LookupResult
}

func (g *fakeGateway) SendBulk(_ context.Context, msgs []port.GatewayMessage) ([]port.GatewayResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.calls = append(g.calls, msgs)
	if g.respond != nil {
		return g.respond(msgs), nil
	}
	results := make([]port.GatewayResult, len(msgs))
	for i, m := range msgs {
		results[i] = port.GatewayResult{MessageID: fmt.Sprintf("up-%s", m.Ref)}
	}
	return results, nil
}

func (g *fakeGateway) LookupStatus(_ context.Context, ref string) (port.LookupResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	res, ok := g.lookups[ref]
	if !ok {
		return port.LookupResult{}, errors.New("lookup: unknown reference")
	}
	return res, nil
}

func (g *fakeGateway) sendCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
