package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"savanna-sms/internal/config/configs"
	"savanna-sms/internal/core/domain"
	"savanna-sms/internal/core/port"
	"savanna-sms/internal/render"
)

func testPipeline() configs.Pipeline {
	return configs.Pipeline{
		BatchSize:         2,
		InsertChunk:       500,
		SyncBatches:       10,
		AccountRateMax:    1000,
		AccountRateWindow: time.Minute,
		TenantRateMax:     300,
		TenantRateWindow:  time.Minute,
		OptOutBaseURL:     "https://sav.na",
		OptOutSecret:      "secret",
	}
}

func testContacts(n int) []domain.Contact {
	contacts := make([]domain.Contact, n)
	for i := range contacts {
		contacts[i] = domain.Contact{
			ID:        int64(i + 1),
			TenantID:  1,
			Phone:     fmt.Sprintf("+2547000000%02d", i+1),
			FirstName: "Asha",
		}
	}
	return contacts
}

type enqueueRig struct {
	campaigns *fakeCampaignRepo
	messages  *fakeMessageRepo
	ledger    *fakeLedger
	queue     *fakeQueue
	enqueuer  *Enqueuer
}

func newEnqueueRig(c domain.Campaign, tenant domain.Tenant, balance int64, contacts []domain.Contact) *enqueueRig {
	rig := &enqueueRig{
		campaigns: newFakeCampaignRepo(c),
		messages:  newFakeMessageRepo(),
		ledger:    newFakeLedger(map[int64]int64{tenant.ID: balance}),
		queue:     &fakeQueue{},
	}
	rig.enqueuer = NewEnqueuer(
		rig.campaigns,
		rig.messages,
		&fakeTenantRepo{tenants: map[int64]domain.Tenant{tenant.ID: tenant}},
		rig.ledger,
		&fakeAudience{contacts: contacts},
		rig.queue,
		render.NewRenderer(nil, "https://sav.na", []byte("secret")),
		testPipeline(),
		testLogger(),
	)
	return rig
}

func TestEnqueueCreatesMessagesAndBatchJobs(t *testing.T) {
	campaign := domain.Campaign{ID: 7, TenantID: 1, Template: "Hi {first_name}!", Status: domain.CampaignStatusDraft}
	tenant := domain.Tenant{ID: 1, SubscriptionActive: true}
	rig := newEnqueueRig(campaign, tenant, 10, testContacts(3))

	res, err := rig.enqueuer.Enqueue(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, 3, res.Created)
	require.Equal(t, 2, res.EnqueuedJobs)

	c, err := rig.campaigns.Get(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, domain.CampaignStatusSending, c.Status)
	require.Equal(t, 3, c.Total)
	require.NotNil(t, c.StartedAt)

	// one queued row per recipient, fully rendered, nothing debited yet
	require.Equal(t, 3, rig.messages.countByCampaign(7))
	msgs, err := rig.messages.GetBatch(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)
	for _, m := range msgs {
		require.Equal(t, domain.MessageStatusQueued, m.Status)
		require.True(t, strings.HasPrefix(m.Body, "Hi Asha!"))
		require.Contains(t, m.Body, "Opt out: https://sav.na/u/")
		require.NotEmpty(t, m.TrackingID)
	}
	require.EqualValues(t, 10, rig.ledger.balance(1))
	require.Equal(t, 2, rig.queue.count())
}

func TestEnqueueInsufficientCreditsLeavesNoTrace(t *testing.T) {
	campaign := domain.Campaign{ID: 7, TenantID: 1, Template: "hi", Status: domain.CampaignStatusDraft}
	tenant := domain.Tenant{ID: 1, SubscriptionActive: true}
	rig := newEnqueueRig(campaign, tenant, 2, testContacts(3))

	res, err := rig.enqueuer.Enqueue(context.Background(), 7)
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, port.ReasonInsufficientCredits, res.Reason)

	c, err := rig.campaigns.Get(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, domain.CampaignStatusDraft, c.Status)
	require.Zero(t, rig.messages.countByCampaign(7))
	require.Zero(t, rig.queue.count())
}

func TestEnqueueEmptyAudienceFailsCampaign(t *testing.T) {
	campaign := domain.Campaign{ID: 7, TenantID: 1, Template: "hi", Status: domain.CampaignStatusDraft}
	tenant := domain.Tenant{ID: 1, SubscriptionActive: true}
	rig := newEnqueueRig(campaign, tenant, 10, nil)

	res, err := rig.enqueuer.Enqueue(context.Background(), 7)
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, port.ReasonNoRecipients, res.Reason)

	c, err := rig.campaigns.Get(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, domain.CampaignStatusFailed, c.Status)
	require.Zero(t, c.Total)
}

func TestEnqueueInactiveSubscription(t *testing.T) {
	campaign := domain.Campaign{ID: 7, TenantID: 1, Template: "hi", Status: domain.CampaignStatusDraft}
	tenant := domain.Tenant{ID: 1, SubscriptionActive: false}
	rig := newEnqueueRig(campaign, tenant, 10, testContacts(2))

	res, err := rig.enqueuer.Enqueue(context.Background(), 7)
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, port.ReasonInactiveSubscription, res.Reason)
	require.Zero(t, rig.messages.countByCampaign(7))
}

func TestEnqueueRejectsTerminalCampaign(t *testing.T) {
	campaign := domain.Campaign{ID: 7, TenantID: 1, Template: "hi", Status: domain.CampaignStatusCompleted}
	tenant := domain.Tenant{ID: 1, SubscriptionActive: true}
	rig := newEnqueueRig(campaign, tenant, 10, testContacts(2))

	res, err := rig.enqueuer.Enqueue(context.Background(), 7)
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, "invalid_status:completed", res.Reason)
}

func TestEnqueueRevertsToDraftWhenPersistFails(t *testing.T) {
	campaign := domain.Campaign{ID: 7, TenantID: 1, Template: "hi", Status: domain.CampaignStatusDraft}
	tenant := domain.Tenant{ID: 1, SubscriptionActive: true}
	rig := newEnqueueRig(campaign, tenant, 10, testContacts(2))
	rig.messages.insertErr = errors.New("connection reset")

	_, err := rig.enqueuer.Enqueue(context.Background(), 7)
	require.Error(t, err)

	c, err := rig.campaigns.Get(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, domain.CampaignStatusDraft, c.Status)
	require.Nil(t, c.StartedAt)
	require.Zero(t, rig.queue.count())
}

// TestEnqueueConcurrentSingleWinner ensures two racing enqueues of the same
// campaign produce one send, not two: one caller wins the status flip, the
// other is rejected, and the recipient rows are created exactly once.
func TestEnqueueConcurrentSingleWinner(t *testing.T) {
	campaign := domain.Campaign{ID: 7, TenantID: 1, Template: "hi", Status: domain.CampaignStatusDraft}
	tenant := domain.Tenant{ID: 1, SubscriptionActive: true}
	rig := newEnqueueRig(campaign, tenant, 10, testContacts(3))

	results := make([]port.EnqueueResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			results[i], errs[i] = rig.enqueuer.Enqueue(context.Background(), 7)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	winners := 0
	for _, res := range results {
		if res.OK {
			winners++
			continue
		}
		ok := res.Reason == port.ReasonAlreadySending ||
			strings.HasPrefix(res.Reason, port.ReasonInvalidStatus)
		require.True(t, ok, "unexpected reason %q", res.Reason)
	}
	require.Equal(t, 1, winners)
	require.Equal(t, 3, rig.messages.countByCampaign(7))
}

func TestDispatchDueEnqueuesScheduledCampaigns(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	due := domain.Campaign{ID: 1, TenantID: 1, Template: "hi", Status: domain.CampaignStatusScheduled, ScheduledAt: &past}
	notYet := domain.Campaign{ID: 2, TenantID: 1, Template: "hi", Status: domain.CampaignStatusScheduled, ScheduledAt: &future}
	tenant := domain.Tenant{ID: 1, SubscriptionActive: true}

	rig := newEnqueueRig(due, tenant, 10, testContacts(2))
	rig.campaigns.campaigns[2] = &notYet

	dispatched, err := rig.enqueuer.DispatchDue(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, dispatched)

	c, err := rig.campaigns.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, domain.CampaignStatusSending, c.Status)

	c, err = rig.campaigns.Get(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, domain.CampaignStatusScheduled, c.Status)
}
