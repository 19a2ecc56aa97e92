package notification

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"incentive-controlplane/pkg/taskname"
	"incentive-controlplane/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T, enq *testutil.FakeEnqueuer) *Service {
	db := testutil.NewTestDB(t, Models()...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	p := ServiceParams{DB: db, Node: node}
	if enq != nil {
		p.Enqueuer = enq
	}
	return NewService(p)
}

func TestRecordIsIdempotentOnDedupeKey(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	first, err := svc.Record(ctx, svc.db, RecordParams{RecipientID: "s1", Message: "card 1 completed", Link: "/campaigns/c/x/cards/1", DedupeKey: "cc-1:SELLER"})
	require.NoError(t, err)
	require.NotNil(t, first.Link)

	again, err := svc.Record(ctx, svc.db, RecordParams{RecipientID: "s1", Message: "other", DedupeKey: "cc-1:SELLER"})
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	var count int64
	require.NoError(t, svc.db.Model(&Notification{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestDispatchEnqueuesDeliverTasks(t *testing.T) {
	enq := &testutil.FakeEnqueuer{}
	svc := newTestService(t, enq)

	n := svc.Dispatch(context.Background(), []string{"a", "b"})
	require.Equal(t, 2, n)
	require.Equal(t, 2, enq.Count())
	require.Equal(t, taskname.NotificationDeliver, enq.Tasks[0].Type())
	require.Contains(t, string(enq.Tasks[1].Payload()), `"notification_id":"b"`)

	enq.Err = errors.New("redis down")
	require.Zero(t, svc.Dispatch(context.Background(), []string{"c"}))
}

func TestDispatchWithoutEnqueuer(t *testing.T) {
	svc := newTestService(t, nil)
	require.Zero(t, svc.Dispatch(context.Background(), []string{"a"}))
}

func TestHandleDeliverTaskMarksPublished(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	n, err := svc.Record(ctx, svc.db, RecordParams{RecipientID: "s1", Message: "hello", DedupeKey: "k"})
	require.NoError(t, err)

	task, err := NewDeliverTask(DeliverPayload{NotificationID: n.ID})
	require.NoError(t, err)
	require.NoError(t, svc.HandleDeliverTask(ctx, task))

	var stored Notification
	require.NoError(t, svc.db.First(&stored, "id = ?", n.ID).Error)
	require.True(t, stored.Published)
	require.NotNil(t, stored.PublishedAt)

	require.NoError(t, svc.HandleDeliverTask(ctx, task))
}

func TestHandleDeliverTaskSkipsRetryOnBadInput(t *testing.T) {
	svc := newTestService(t, nil)

	err := svc.HandleDeliverTask(context.Background(), asynq.NewTask(taskname.NotificationDeliver, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	missing, err := NewDeliverTask(DeliverPayload{NotificationID: "missing"})
	require.NoError(t, err)
	require.ErrorIs(t, svc.HandleDeliverTask(context.Background(), missing), asynq.SkipRetry)
}

func TestRelayRequeuesStaleUnpublished(t *testing.T) {
	enq := &testutil.FakeEnqueuer{Err: errors.New("redis down")}
	svc := newTestService(t, enq)
	ctx := context.Background()

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	stale, err := svc.Record(ctx, svc.db, RecordParams{RecipientID: "s1", Message: "card 1", DedupeKey: "cc-1:SELLER"})
	require.NoError(t, err)
	fresh, err := svc.Record(ctx, svc.db, RecordParams{RecipientID: "s1", Message: "card 2", DedupeKey: "cc-2:SELLER"})
	require.NoError(t, err)
	published, err := svc.Record(ctx, svc.db, RecordParams{RecipientID: "s2", Message: "card 1", DedupeKey: "cc-3:SELLER"})
	require.NoError(t, err)

	require.NoError(t, svc.db.Model(&Notification{}).Where("id = ?", stale.ID).Update("created_at", clock.Add(-10*time.Minute)).Error)
	require.NoError(t, svc.db.Model(&Notification{}).Where("id = ?", fresh.ID).Update("created_at", clock.Add(-time.Minute)).Error)
	require.NoError(t, svc.db.Model(&Notification{}).Where("id = ?", published.ID).
		Updates(map[string]any{"created_at": clock.Add(-time.Hour), "published": true}).Error)

	// first dispatch never reached the queue
	require.Zero(t, svc.Dispatch(ctx, []string{stale.ID, fresh.ID}))

	n, err := svc.Relay(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Zero(t, n)

	enq.Err = nil
	n, err = svc.Relay(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, enq.Count())
	require.Contains(t, string(enq.Tasks[0].Payload()), `"notification_id":"`+stale.ID+`"`)
}

func TestDispatchTreatsQueuedTaskAsEnqueued(t *testing.T) {
	enq := &testutil.FakeEnqueuer{Err: fmt.Errorf("enqueue %s: %w", taskname.NotificationDeliver, asynq.ErrTaskIDConflict)}
	svc := newTestService(t, enq)

	require.Equal(t, 1, svc.Dispatch(context.Background(), []string{"a"}))
}

func TestRelayWithoutEnqueuer(t *testing.T) {
	svc := newTestService(t, nil)
	n, err := svc.Relay(context.Background(), time.Minute)
	require.NoError(t, err)
	require.Zero(t, n)
}
