package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
)

func TestMemory_CreditOncePerCorrelationID(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()

	require.NoError(t, l.Credit(ctx, "user-1", 27000, "cid-1"))
	assert.ErrorIs(t, l.Credit(ctx, "user-1", 27000, "cid-1"), domain.ErrAlreadyCredited)
	require.NoError(t, l.Credit(ctx, "user-1", 1000, "cid-2"))

	c, err := l.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(28000), c.TotalSpent)
	assert.Equal(t, "cid-2", c.LastCreditedCorrelationID)
}

func TestMemory_SetTier(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()
	expires := time.Date(2026, 11, 16, 0, 0, 0, 0, time.UTC)

	require.NoError(t, l.SetTier(ctx, "user-1", "gold", expires))

	c, err := l.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "gold", c.Tier)
	require.NotNil(t, c.TierExpiresAt)
	assert.True(t, expires.Equal(*c.TierExpiresAt))

	missing, err := l.Get(ctx, "user-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
