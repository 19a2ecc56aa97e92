package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"incentive-controlplane/pkg/db/option"
	"incentive-controlplane/pkg/logger"
	"incentive-controlplane/pkg/repository"
	"incentive-controlplane/pkg/task"
	"incentive-controlplane/pkg/taskname"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("notification.module",
	fx.Provide(NewService),
)

// Worker registers the delivery handler on the asynq server mux.
var Worker = fx.Module("notification.worker",
	fx.Invoke(func(mux *asynq.ServeMux, svc *Service) {
		mux.HandleFunc(taskname.NotificationDeliver, svc.HandleDeliverTask)
	}),
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	enqueuer task.Enqueuer
	now      func() time.Time

	notification repository.Repository[Notification]
}

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:           p.DB,
		node:         p.Node,
		enqueuer:     p.Enqueuer,
		now:          time.Now,
		notification: repository.ProvideStore[Notification](p.DB),
	}
}

type RecordParams struct {
	RecipientID string
	Message     string
	Link        string
	DedupeKey   string
}

// Record writes a notification inside tx. Recording the same DedupeKey twice returns the first row.
func (s *Service) Record(ctx context.Context, tx *gorm.DB, p RecordParams) (*Notification, error) {
	repo := s.notification.WithTrx(tx)

	exist, err := repo.FindOne(ctx, &Notification{DedupeKey: p.DedupeKey})
	if err != nil {
		return nil, err
	}
	if exist != nil {
		return exist, nil
	}

	n := &Notification{
		ID:          s.node.Generate().String(),
		RecipientID: p.RecipientID,
		Message:     p.Message,
		DedupeKey:   p.DedupeKey,
	}
	if p.Link != "" {
		n.Link = &p.Link
	}

	if err := repo.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Dispatch enqueues delivery of committed notifications. Failures are logged and the rows stay
// unpublished until the relay picks them up again.
func (s *Service) Dispatch(ctx context.Context, ids []string) int {
	if len(ids) == 0 {
		return 0
	}

	log := logger.FromContext(ctx)
	if s.enqueuer == nil {
		log.Warn("notification enqueuer not configured, leaving notifications unpublished", zap.Int("count", len(ids)))
		return 0
	}

	traceID := trace.SpanFromContext(ctx).SpanContext().TraceID().String()
	enqueued := 0
	for _, id := range ids {
		t, err := NewDeliverTask(DeliverPayload{NotificationID: id, TraceID: traceID})
		if err != nil {
			log.Error("failed to build deliver task", zap.String("notification_id", id), zap.Error(err))
			continue
		}
		if _, err := s.enqueuer.Enqueue(ctx, t); err != nil {
			if errors.Is(err, asynq.ErrTaskIDConflict) {
				log.Debug("notification already queued", zap.String("notification_id", id))
				enqueued++
				continue
			}
			log.Error("failed to enqueue notification", zap.String("notification_id", id), zap.Error(err))
			continue
		}
		enqueued++
	}
	return enqueued
}

const relayBatchSize = 100

// Relay re-enqueues notifications still unpublished after olderThan. It returns how many were queued.
func (s *Service) Relay(ctx context.Context, olderThan time.Duration) (int, error) {
	if s.enqueuer == nil {
		return 0, nil
	}

	cutoff := s.now().UTC().Add(-olderThan)
	stale, err := s.notification.Find(ctx, nil,
		option.ApplyOperator(
			option.Condition{Field: "published", Operator: option.EQ, Value: false},
			option.Condition{Field: "created_at", Operator: option.LT, Value: cutoff},
		),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc", Allow: map[string]bool{"created_at": true}}),
		option.WithLimit(relayBatchSize),
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to query unpublished notifications", zap.Error(err))
		return 0, err
	}

	ids := make([]string, 0, len(stale))
	for _, n := range stale {
		ids = append(ids, n.ID)
	}
	return s.Dispatch(ctx, ids), nil
}

func (s *Service) HandleDeliverTask(ctx context.Context, t *asynq.Task) error {
	var payload DeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	zapLog := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("notification_id", payload.NotificationID),
		zap.String("trace_id", payload.TraceID),
	)

	n, err := s.notification.FindOne(ctx, &Notification{ID: payload.NotificationID})
	if err != nil {
		zapLog.Error("failed to load notification", zap.Error(err))
		return err
	}
	if n == nil {
		zapLog.Warn("notification not found")
		return fmt.Errorf("notification %s: %w", payload.NotificationID, asynq.SkipRetry)
	}
	if n.Published {
		return nil
	}

	link := ""
	if n.Link != nil {
		link = *n.Link
	}
	zapLog.Info("delivering notification",
		zap.String("recipient_id", n.RecipientID),
		zap.String("message", n.Message),
		zap.String("link", link),
	)

	updates := map[string]any{
		"published":    true,
		"published_at": s.now().UTC(),
	}
	if err := s.notification.Update(ctx, n.ID, &updates); err != nil {
		zapLog.Error("failed to mark notification published", zap.Error(err))
		return err
	}
	return nil
}
