//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	audit "grantd/pkg/platform/audit"
	"grantd/pkg/testutil/containers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	pg := containers.NewPostgresContainer(t)
	store := New(pg.DB)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	events := []audit.Event{
		{ID: "e1", Category: audit.CategoryOperations, Action: string(audit.EventGrantIssued), ClientID: "client-a", Timestamp: base},
		{ID: "e2", Category: audit.CategorySecurity, Action: string(audit.EventCodeReplayDetected), ClientID: "client-a", Reason: "code already redeemed", Timestamp: base.Add(time.Second)},
		{ID: "e3", Category: audit.CategoryOperations, Action: string(audit.EventGrantIssued), ClientID: "client-b", IP: "203.0.113.7", Device: "Firefox on Linux", Timestamp: base.Add(2 * time.Second)},
	}
	for _, e := range events {
		require.NoError(t, store.Append(ctx, e))
	}
	require.NoError(t, store.Append(ctx, events[0]), "appending the same ID is a no-op")

	byClient, err := store.ListByClient(ctx, "client-a")
	require.NoError(t, err)
	require.Len(t, byClient, 2)
	assert.Equal(t, "e2", byClient[0].ID)
	assert.Equal(t, audit.CategorySecurity, byClient[0].Category)
	assert.Equal(t, "code already redeemed", byClient[0].Reason)

	issued, err := store.ListByAction(ctx, audit.EventGrantIssued)
	require.NoError(t, err)
	require.Len(t, issued, 2)
	assert.Equal(t, "Firefox on Linux", issued[0].Device)

	recent, err := store.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "e3", recent[0].ID)
}
