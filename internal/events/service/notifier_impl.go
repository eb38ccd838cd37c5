package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/dukapos/dukapos/internal/clock"
	eventsdomain "github.com/dukapos/dukapos/internal/events/domain"
	"github.com/dukapos/dukapos/internal/events/repository"
	"github.com/dukapos/dukapos/pkg/db"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const publishTimeout = 2 * time.Second

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  repository.Repository
	Redis *redis.Client `optional:"true"`
}

type Notifier struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  repository.Repository
	redis *redis.Client
}

func NewNotifier(p Params) *Notifier {
	return &Notifier{
		db:    p.DB,
		log:   p.Log.Named("events.notifier"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		redis: p.Redis,
	}
}

var _ eventsdomain.Notifier = (*Notifier)(nil)

func (n *Notifier) Publish(ctx context.Context, req eventsdomain.PublishRequest) error {
	event := &eventsdomain.BillingEvent{
		ID:        n.genID.Generate(),
		TenantID:  req.TenantID,
		EventType: req.EventType,
		Payload:   req.Payload,
		CreatedAt: n.clock.Now(),
	}
	if req.DedupeKey != "" {
		key := req.DedupeKey
		event.DedupeKey = &key
	}

	if err := n.repo.Insert(ctx, n.db, event); err != nil {
		if db.IsDuplicateKeyErr(err) {
			n.log.Debug("event already recorded",
				zap.String("tenant_id", req.TenantID.String()),
				zap.String("event_type", req.EventType),
				zap.String("dedupe_key", req.DedupeKey),
			)
			return nil
		}
		return err
	}

	n.push(ctx, event)
	return nil
}

// push is fire and forget: a dead redis must not fail billing writes.
func (n *Notifier) push(ctx context.Context, event *eventsdomain.BillingEvent) {
	if n.redis == nil {
		return
	}

	body, err := json.Marshal(map[string]interface{}{
		"id":      event.ID.String(),
		"type":    event.EventType,
		"payload": event.Payload,
	})
	if err != nil {
		n.log.Warn("failed to encode event", zap.Error(err))
		return
	}

	pushCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	channel := fmt.Sprintf("tenant:%s:billing", event.TenantID.String())
	if err := n.redis.Publish(pushCtx, channel, body).Err(); err != nil {
		n.log.Warn("failed to push event",
			zap.String("channel", channel),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
		return
	}
	if err := n.repo.MarkPublished(ctx, n.db, event.ID, n.clock.Now()); err != nil {
		n.log.Warn("failed to mark event published", zap.Error(err))
	}
}
