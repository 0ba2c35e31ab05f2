package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/serenity/internal/config"
	"github.com/nadzzz/serenity/internal/events"
)

// startTestServer starts an in-memory NATS server for testing purposes.
func startTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	return natsServer, natsConnection
}

func TestNATSPublisherPublish(t *testing.T) {
	t.Parallel()

	_, conn := startTestServer(t)

	sub, err := conn.SubscribeSync("meditation.>")
	require.NoError(t, err)
	require.NoError(t, conn.Flush())

	pub := events.NewNATSPublisher(conn, "")
	evt := events.New(events.Generated, "calm_morning_with_rain_by_v1", "Calm Morning", "rain", "v1", "uid-1")
	require.NoError(t, pub.Publish(context.Background(), evt))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "meditation.generated", msg.Subject)

	var got events.Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, evt.ID, got.ID)
	assert.Equal(t, events.Generated, got.Type)
	assert.Equal(t, "calm_morning_with_rain_by_v1", got.Key)
	assert.Equal(t, "uid-1", got.UID)

	// Borrowed connections stay open.
	require.NoError(t, pub.Close())
	assert.True(t, conn.IsConnected())
}

func TestConnect(t *testing.T) {
	t.Parallel()

	natsServer, conn := startTestServer(t)

	sub, err := conn.SubscribeSync("serenity.removed")
	require.NoError(t, err)
	require.NoError(t, conn.Flush())

	pub, err := events.Connect(config.EventsConfig{URL: natsServer.ClientURL(), SubjectPrefix: "serenity"})
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), events.New(events.Removed, "k", "t", "a", "v", "")))
	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "serenity.removed", msg.Subject)

	require.NoError(t, pub.Close())
}

func TestConnectUnreachable(t *testing.T) {
	t.Parallel()

	_, err := events.Connect(config.EventsConfig{URL: "nats://127.0.0.1:1"})
	require.Error(t, err)
}

func TestNop(t *testing.T) {
	t.Parallel()

	var p events.Publisher = events.Nop{}
	require.NoError(t, p.Publish(context.Background(), events.Event{}))
	require.NoError(t, p.Close())
}
