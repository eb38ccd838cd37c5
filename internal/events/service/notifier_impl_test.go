package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/dukapos/dukapos/internal/clock"
	eventsdomain "github.com/dukapos/dukapos/internal/events/domain"
	"github.com/dukapos/dukapos/internal/events/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupNotifier(t *testing.T) (*Notifier, *gorm.DB, *snowflake.Node) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&eventsdomain.BillingEvent{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	n := NewNotifier(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
	return n, db, node
}

func TestPublishDeduplicates(t *testing.T) {
	n, db, node := setupNotifier(t)
	ctx := context.Background()
	tenantID := node.Generate()

	req := eventsdomain.PublishRequest{
		TenantID:  tenantID,
		EventType: eventsdomain.EventSubscriptionActivated,
		DedupeKey: "activated:ws_CO_1",
		Payload:   map[string]interface{}{"subscription_id": "42"},
	}

	require.NoError(t, n.Publish(ctx, req))
	// A retried publish with the same dedupe key is absorbed.
	require.NoError(t, n.Publish(ctx, req))

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM billing_events`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPublishDistinctTenantsShareDedupeKeys(t *testing.T) {
	n, db, node := setupNotifier(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, n.Publish(ctx, eventsdomain.PublishRequest{
			TenantID:  node.Generate(),
			EventType: eventsdomain.EventSubscriptionExpired,
			DedupeKey: "expired:1",
			Payload:   map[string]interface{}{},
		}))
	}

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM billing_events`).Scan(&count).Error)
	assert.Equal(t, int64(2), count)
}
