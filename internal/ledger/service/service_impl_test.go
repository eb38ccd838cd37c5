package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/dukapos/dukapos/internal/ledger/domain"
	"github.com/dukapos/dukapos/internal/ledger/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupService(t *testing.T) (*Service, *gorm.DB, *snowflake.Node) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ledgerdomain.Entry{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})
	return svc, db, node
}

func countEntries(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM payment_ledger`).Scan(&count).Error)
	return count
}

func TestApplyCallbackIsIdempotent(t *testing.T) {
	svc, _, node := setupService(t)
	ctx := context.Background()
	tenantID := node.Generate()

	_, err := svc.RecordInitiation(ctx, ledgerdomain.RecordInitiationRequest{
		CorrelationID: "ws_CO_1",
		TenantID:      tenantID,
		MerchantRef:   "SUB-42",
		AmountMinor:   150000,
		Phone:         "254708374149",
	})
	require.NoError(t, err)

	receipt := "NLJ7RT61SV"
	entry, err := svc.ApplyCallback(ctx, ledgerdomain.ApplyCallbackRequest{
		CorrelationID: "ws_CO_1",
		ResultCode:    0,
		ResultDesc:    "Success",
		Receipt:       &receipt,
	})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.EntryStatusSuccess, entry.Status)
	require.NotNil(t, entry.Receipt)
	assert.Equal(t, receipt, *entry.Receipt)

	// A replayed delivery must not rewrite the terminal fields.
	replay, err := svc.ApplyCallback(ctx, ledgerdomain.ApplyCallbackRequest{
		CorrelationID: "ws_CO_1",
		ResultCode:    1032,
		ResultDesc:    "Request cancelled by user.",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrAlreadyFinalized)
	require.NotNil(t, replay)
	assert.Equal(t, ledgerdomain.EntryStatusSuccess, replay.Status)
}

func TestRecordInitiationRetryRefreshesPending(t *testing.T) {
	svc, db, node := setupService(t)
	ctx := context.Background()
	tenantID := node.Generate()

	first, err := svc.RecordInitiation(ctx, ledgerdomain.RecordInitiationRequest{
		CorrelationID: "ws_CO_1",
		TenantID:      tenantID,
		AmountMinor:   150000,
		Phone:         "254708374149",
	})
	require.NoError(t, err)

	second, err := svc.RecordInitiation(ctx, ledgerdomain.RecordInitiationRequest{
		CorrelationID: "ws_CO_1",
		TenantID:      tenantID,
		AmountMinor:   160000,
		Phone:         "254708374150",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(160000), second.AmountMinor)
	assert.Equal(t, int64(1), countEntries(t, db))
}

func TestRecordInitiationAfterTerminalIsRejected(t *testing.T) {
	svc, _, node := setupService(t)
	ctx := context.Background()
	tenantID := node.Generate()

	_, err := svc.RecordInitiation(ctx, ledgerdomain.RecordInitiationRequest{
		CorrelationID: "ws_CO_1",
		TenantID:      tenantID,
		AmountMinor:   150000,
	})
	require.NoError(t, err)

	_, err = svc.ApplyCallback(ctx, ledgerdomain.ApplyCallbackRequest{
		CorrelationID: "ws_CO_1",
		ResultCode:    0,
	})
	require.NoError(t, err)

	existing, err := svc.RecordInitiation(ctx, ledgerdomain.RecordInitiationRequest{
		CorrelationID: "ws_CO_1",
		TenantID:      tenantID,
		AmountMinor:   150000,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrDuplicateCorrelationID)
	require.NotNil(t, existing)
	assert.Equal(t, ledgerdomain.EntryStatusSuccess, existing.Status)
}

func TestApplyCallbackBeforeInitiationRecordsOrphan(t *testing.T) {
	svc, db, node := setupService(t)
	ctx := context.Background()
	tenantID := node.Generate()

	receipt := "NLJ7RT61SV"
	entry, err := svc.ApplyCallback(ctx, ledgerdomain.ApplyCallbackRequest{
		CorrelationID: "ws_CO_orphan",
		ResultCode:    0,
		Receipt:       &receipt,
		TenantID:      tenantID,
		AmountMinor:   150000,
		Phone:         "254708374149",
	})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.EntryStatusSuccess, entry.Status)
	assert.Equal(t, int64(1), countEntries(t, db))

	_, err = svc.ApplyCallback(ctx, ledgerdomain.ApplyCallbackRequest{
		CorrelationID: "ws_CO_orphan",
		ResultCode:    0,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrAlreadyFinalized)
}

func TestQueryTerminalStatus(t *testing.T) {
	svc, _, node := setupService(t)
	ctx := context.Background()

	_, err := svc.QueryTerminalStatus(ctx, "ws_CO_unknown")
	assert.ErrorIs(t, err, ledgerdomain.ErrEntryNotFound)

	_, err = svc.RecordInitiation(ctx, ledgerdomain.RecordInitiationRequest{
		CorrelationID: "ws_CO_1",
		TenantID:      node.Generate(),
		AmountMinor:   150000,
	})
	require.NoError(t, err)

	status, err := svc.QueryTerminalStatus(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.False(t, status.Terminal)

	_, err = svc.ApplyCallback(ctx, ledgerdomain.ApplyCallbackRequest{
		CorrelationID: "ws_CO_1",
		ResultCode:    1037,
		ResultDesc:    "DS timeout",
	})
	require.NoError(t, err)

	status, err = svc.QueryTerminalStatus(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.True(t, status.Terminal)
	assert.False(t, status.Success)
}
