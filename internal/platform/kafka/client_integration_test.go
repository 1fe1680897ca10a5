//go:build integration

package kafka

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kadm"

	"grantd/internal/platform/config"
	"grantd/pkg/testutil/containers"
)

func TestEnsureTopic(t *testing.T) {
	ctx := context.Background()
	broker := containers.NewRedpandaContainer(t)

	client, err := New(ctx, config.KafkaConfig{Brokers: []string{broker.Broker}, Topic: "grantd.audit"})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	require.NoError(t, client.EnsureTopic(ctx, "grantd.audit"))
	require.NoError(t, client.EnsureTopic(ctx, "grantd.audit"), "second call is a no-op")

	topics, err := kadm.NewClient(client.Client).ListTopics(ctx, "grantd.audit")
	require.NoError(t, err)
	require.True(t, topics.Has("grantd.audit"))
}
