package kafka

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantd/internal/platform/config"
)

func TestNew_NoBrokers(t *testing.T) {
	client, err := New(context.Background(), config.KafkaConfig{Topic: "grantd.audit"})
	require.NoError(t, err)
	assert.Nil(t, client)
}
