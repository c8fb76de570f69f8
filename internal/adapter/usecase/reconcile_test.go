package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"savanna-sms/internal/core/domain"
	"savanna-sms/internal/core/port"
)

type reconcileRig struct {
	campaigns  *fakeCampaignRepo
	messages   *fakeMessageRepo
	ledger     *fakeLedger
	gateway    *fakeGateway
	reconciler *Reconciler
}

func newReconcileRig(cs ...domain.Campaign) *reconcileRig {
	rig := &reconcileRig{
		campaigns: newFakeCampaignRepo(cs...),
		messages:  newFakeMessageRepo(),
		ledger:    newFakeLedger(map[int64]int64{1: 100}),
		gateway:   &fakeGateway{lookups: map[string]port.LookupResult{}},
	}
	rig.reconciler = NewReconciler(rig.campaigns, rig.messages, rig.ledger, rig.gateway, testLogger())
	return rig
}

func TestReconcileIgnoresCampaignWithoutMessages(t *testing.T) {
	rig := newReconcileRig(domain.Campaign{ID: 7, TenantID: 1, Status: domain.CampaignStatusDraft})

	require.NoError(t, rig.reconciler.Reconcile(context.Background(), 7))

	c, err := rig.campaigns.Get(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, domain.CampaignStatusDraft, c.Status)
	require.Zero(t, c.Total)
}

func TestReconcileKeepsSendingWhileMessagesQueued(t *testing.T) {
	rig := newReconcileRig(domain.Campaign{ID: 7, TenantID: 1, Status: domain.CampaignStatusSending, Total: 3})
	rig.messages.seed(domain.Message{CampaignID: 7, TenantID: 1, Status: domain.MessageStatusSent})
	rig.messages.seed(domain.Message{CampaignID: 7, TenantID: 1, Status: domain.MessageStatusQueued})
	rig.messages.seed(domain.Message{CampaignID: 7, TenantID: 1, Status: domain.MessageStatusQueued})

	require.NoError(t, rig.reconciler.Reconcile(context.Background(), 7))

	c, err := rig.campaigns.Get(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, domain.CampaignStatusSending, c.Status)
	require.Equal(t, 1, c.Sent)
	require.Nil(t, c.FinishedAt)
}

func TestReconcileCompletesWhenAllSettled(t *testing.T) {
	rig := newReconcileRig(domain.Campaign{ID: 7, TenantID: 1, Status: domain.CampaignStatusSending, Total: 2})
	rig.messages.seed(domain.Message{CampaignID: 7, TenantID: 1, Status: domain.MessageStatusSent})
	rig.messages.seed(domain.Message{CampaignID: 7, TenantID: 1, Status: domain.MessageStatusFailed})

	require.NoError(t, rig.reconciler.Reconcile(context.Background(), 7))

	c, err := rig.campaigns.Get(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, domain.CampaignStatusCompleted, c.Status)
	require.Equal(t, 1, c.Sent)
	require.Equal(t, 1, c.Failed)
	require.NotNil(t, c.FinishedAt)
}

func TestApplyDeliveryReportUnknownMessageIgnored(t *testing.T) {
	rig := newReconcileRig(domain.Campaign{ID: 7, TenantID: 1, Status: domain.CampaignStatusSending})

	err := rig.reconciler.ApplyDeliveryReport(context.Background(), port.DeliveryReport{
		UpstreamID: "up-missing",
		Status:     "Delivered",
	})
	require.NoError(t, err)
}

func TestApplyDeliveryReportTerminalIsSticky(t *testing.T) {
	rig := newReconcileRig(domain.Campaign{ID: 7, TenantID: 1, Status: domain.CampaignStatusSending, Total: 1})
	upstream := "up-1"
	id := rig.messages.seed(domain.Message{
		CampaignID: 7, TenantID: 1,
		Status: domain.MessageStatusSent, UpstreamID: &upstream, TrackingID: "t-1",
	})

	// a late rejection must not flip an already settled message
	err := rig.reconciler.ApplyDeliveryReport(context.Background(), port.DeliveryReport{
		UpstreamID: upstream,
		Status:     "Rejected",
	})
	require.NoError(t, err)
	require.Equal(t, domain.MessageStatusSent, rig.messages.get(id).Status)

	c, err := rig.campaigns.Get(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, domain.CampaignStatusCompleted, c.Status)
}

func TestSweepUnbilledBackfillsDebits(t *testing.T) {
	rig := newReconcileRig(domain.Campaign{ID: 7, TenantID: 1, Status: domain.CampaignStatusSending, Total: 2})
	up1, up2 := "up-1", "up-2"
	sentAt := time.Now().Add(-time.Hour)
	id1 := rig.messages.seed(domain.Message{
		CampaignID: 7, TenantID: 1, Status: domain.MessageStatusSent,
		UpstreamID: &up1, TrackingID: "t-1", SentAt: &sentAt,
	})
	id2 := rig.messages.seed(domain.Message{
		CampaignID: 7, TenantID: 1, Status: domain.MessageStatusSent,
		UpstreamID: &up2, TrackingID: "t-2", SentAt: &sentAt,
	})
	rig.messages.unbilledIDs = []int64{id1, id2}

	repaired, err := rig.reconciler.SweepUnbilled(context.Background(), time.Now(), 10*time.Minute, 100)
	require.NoError(t, err)
	require.Equal(t, 2, repaired)

	debits := rig.ledger.debits(domain.CreditReasonBackfill)
	require.Len(t, debits, 2)
	for _, d := range debits {
		require.NotEmpty(t, d.entry.Meta[domain.MetaKeyTrackingID])
	}
	require.EqualValues(t, 98, rig.ledger.balance(1))
}

// TestSweepUnbilledConcurrentSweepsBillOnce covers two workers running the
// sweep over the same unbilled rows: the loser of each insert sees the
// already-billed signal and moves on without charging again.
func TestSweepUnbilledConcurrentSweepsBillOnce(t *testing.T) {
	rig := newReconcileRig(domain.Campaign{ID: 7, TenantID: 1, Status: domain.CampaignStatusSending, Total: 2})
	up1, up2 := "up-1", "up-2"
	sentAt := time.Now().Add(-time.Hour)
	id1 := rig.messages.seed(domain.Message{
		CampaignID: 7, TenantID: 1, Status: domain.MessageStatusSent,
		UpstreamID: &up1, TrackingID: "t-1", SentAt: &sentAt,
	})
	id2 := rig.messages.seed(domain.Message{
		CampaignID: 7, TenantID: 1, Status: domain.MessageStatusSent,
		UpstreamID: &up2, TrackingID: "t-2", SentAt: &sentAt,
	})
	rig.messages.unbilledIDs = []int64{id1, id2}

	repaired, err := rig.reconciler.SweepUnbilled(context.Background(), time.Now(), 10*time.Minute, 100)
	require.NoError(t, err)
	require.Equal(t, 2, repaired)

	// the listing still reports the same rows, as it would for a second
	// worker whose query ran before the first finished
	repaired, err = rig.reconciler.SweepUnbilled(context.Background(), time.Now(), 10*time.Minute, 100)
	require.NoError(t, err)
	require.Equal(t, 0, repaired)

	require.Len(t, rig.ledger.debits(domain.CreditReasonBackfill), 2)
	require.EqualValues(t, 98, rig.ledger.balance(1))
}

// TestPollStaleRecoversLostResponses replays the lost-send-response repair:
// three messages sat queued past the cutoff, the gateway knows two of them.
func TestPollStaleRecoversLostResponses(t *testing.T) {
	rig := newReconcileRig(domain.Campaign{ID: 7, TenantID: 1, Status: domain.CampaignStatusSending, Total: 3})
	old := time.Now().Add(-time.Hour)
	delivered := rig.messages.seed(domain.Message{
		CampaignID: 7, TenantID: 1, TrackingID: "t-ok", CreatedAt: old, Destination: "+254700000001",
	})
	rejected := rig.messages.seed(domain.Message{
		CampaignID: 7, TenantID: 1, TrackingID: "t-bad", CreatedAt: old, Destination: "+254700000002",
	})
	pending := rig.messages.seed(domain.Message{
		CampaignID: 7, TenantID: 1, TrackingID: "t-wait", CreatedAt: old, Destination: "+254700000003",
	})
	rig.gateway.lookups["t-ok"] = port.LookupResult{MessageID: "up-ok", Status: "DeliveredToTerminal"}
	rig.gateway.lookups["t-bad"] = port.LookupResult{MessageID: "up-bad", Status: "Undeliverable"}
	rig.gateway.lookups["t-wait"] = port.LookupResult{Status: "Buffered"}

	settled, err := rig.reconciler.PollStale(context.Background(), time.Now(), 15*time.Minute, 100)
	require.NoError(t, err)
	require.Equal(t, 2, settled)

	m := rig.messages.get(delivered)
	require.Equal(t, domain.MessageStatusSent, m.Status)
	require.Equal(t, "up-ok", *m.UpstreamID)

	m = rig.messages.get(rejected)
	require.Equal(t, domain.MessageStatusFailed, m.Status)
	require.Equal(t, domain.FailReasonSendFailed, *m.ErrorDetail)

	require.Equal(t, domain.MessageStatusQueued, rig.messages.get(pending).Status)

	// the recovered send is billed exactly once
	require.Len(t, rig.ledger.debits(domain.CreditReasonBulkSend), 1)
}

func TestMapDeliveryStatusDefaultsToPending(t *testing.T) {
	require.Equal(t, outcomeDelivered, mapDeliveryStatus("Delivered"))
	require.Equal(t, outcomeFailed, mapDeliveryStatus("Expired"))
	require.Equal(t, outcomePending, mapDeliveryStatus("SomethingNew"))
	require.Equal(t, outcomePending, mapDeliveryStatus(""))
}
