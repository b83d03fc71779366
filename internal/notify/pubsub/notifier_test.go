package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/crawl-pipeline/internal/pool"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	return client, srv
}

func TestNotifyFaultPublishes(t *testing.T) {
	ctx := context.Background()
	client, srv := newTestClient(t)

	_, err := client.CreateTopic(ctx, "faults")
	require.NoError(t, err)

	n, err := NewWithClient(ctx, client, "faults")
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	f := pool.Fault{Thread: "host-0", Host: "10.0.0.1", At: time.Unix(1700000000, 0).UTC(), Trace: "panic: boom"}
	require.NoError(t, n.NotifyFault(ctx, f))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "host-0", msgs[0].Attributes["thread"])

	var got pool.Fault
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, f, got)
}

func TestNewWithClientMissingTopic(t *testing.T) {
	client, _ := newTestClient(t)
	t.Cleanup(func() { _ = client.Close() })

	_, err := NewWithClient(context.Background(), client, "absent")
	require.ErrorContains(t, err, "does not exist")
}
