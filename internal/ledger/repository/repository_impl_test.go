package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/dukapos/dukapos/internal/ledger/domain"
	subscriptiondomain "github.com/dukapos/dukapos/internal/subscription/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupRepo(t *testing.T) (ledgerdomain.Repository, *gorm.DB, *snowflake.Node) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ledgerdomain.Entry{}, &subscriptiondomain.Subscription{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return Provide(), db, node
}

func insertPending(t *testing.T, repo ledgerdomain.Repository, db *gorm.DB, node *snowflake.Node, correlationID string, createdAt time.Time) {
	t.Helper()
	err := repo.Insert(context.Background(), db, &ledgerdomain.Entry{
		ID:            node.Generate(),
		TenantID:      node.Generate(),
		CorrelationID: correlationID,
		AmountMinor:   150000,
		Currency:      "KES",
		Status:        ledgerdomain.EntryStatusPending,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	})
	require.NoError(t, err)
}

func TestFindStuckPendingWindow(t *testing.T) {
	repo, db, node := setupRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insertPending(t, repo, db, node, "ws_CO_young", now.Add(-4*time.Minute))
	insertPending(t, repo, db, node, "ws_CO_stuck", now.Add(-6*time.Minute))
	insertPending(t, repo, db, node, "ws_CO_ancient", now.Add(-25*time.Hour))

	entries, err := repo.FindStuckPending(ctx, db, now.Add(-5*time.Minute), now.Add(-24*time.Hour), 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ws_CO_stuck", entries[0].CorrelationID)
}

func TestFinalizeIsWriteOnce(t *testing.T) {
	repo, db, node := setupRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insertPending(t, repo, db, node, "ws_CO_1", now)

	won, err := repo.Finalize(ctx, db, "ws_CO_1", ledgerdomain.EntryStatusFailed, 1032, "Request cancelled by user.", nil, nil)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.Finalize(ctx, db, "ws_CO_1", ledgerdomain.EntryStatusSuccess, 0, "Success", nil, nil)
	require.NoError(t, err)
	assert.False(t, won)

	entry, err := repo.FindByCorrelationID(ctx, db, "ws_CO_1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, ledgerdomain.EntryStatusFailed, entry.Status)
}

func TestFindSettledUnactivated(t *testing.T) {
	repo, db, node := setupRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// A settled payment whose subscription never went active.
	orphanCorr := "ws_CO_orphan"
	code := 0
	require.NoError(t, repo.Insert(ctx, db, &ledgerdomain.Entry{
		ID:            node.Generate(),
		TenantID:      node.Generate(),
		CorrelationID: orphanCorr,
		AmountMinor:   150000,
		Currency:      "KES",
		Status:        ledgerdomain.EntryStatusSuccess,
		ResultCode:    &code,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))

	// A settled payment attached to an active subscription.
	activeCorr := "ws_CO_active"
	require.NoError(t, repo.Insert(ctx, db, &ledgerdomain.Entry{
		ID:            node.Generate(),
		TenantID:      node.Generate(),
		CorrelationID: activeCorr,
		AmountMinor:   150000,
		Currency:      "KES",
		Status:        ledgerdomain.EntryStatusSuccess,
		ResultCode:    &code,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
	require.NoError(t, db.Exec(
		`INSERT INTO subscriptions (id, tenant_id, plan_id, amount_minor, currency, status,
		 is_active, is_verified, correlation_id, phone, auto_renew, billing_interval, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.Generate(), node.Generate(), node.Generate(), 150000, "KES",
		subscriptiondomain.StatusActive, true, true, activeCorr, "", false, "monthly", now, now,
	).Error)

	entries, err := repo.FindSettledUnactivated(ctx, db, 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, orphanCorr, entries[0].CorrelationID)
}
