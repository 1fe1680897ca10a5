package postgres

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantd/internal/platform/config"
)

func TestOpen_EmptyURL(t *testing.T) {
	db, err := Open(context.Background(), config.PostgresConfig{})
	require.NoError(t, err)
	assert.Nil(t, db)
}

func TestSchema_DeclaresCredentialTables(t *testing.T) {
	for _, table := range []string{"pending_grants", "active_tokens", "refresh_tokens", "token_revocations", "audit_events"} {
		assert.True(t, strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table), table)
	}
}
