package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	redisclient "github.com/lyzr/flowcore/common/redis"
	"github.com/lyzr/flowcore/internal/planning"
)

type testLogger struct{ errs []string }

func (l *testLogger) Error(msg string, args ...any) { l.errs = append(l.errs, msg) }

func TestPublisherPublishesToRunChannel(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()
	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	log := &testLogger{}
	client := redisclient.NewClient(rc, log)

	sub := client.Subscribe(context.Background(), "trace:run-1")
	defer sub.Close()
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	pub := NewPublisher(client, "trace", log)
	pub.Publish(context.Background(), "run-1", []planning.Event{
		{Type: "token_routed", Payload: map[string]interface{}{"node_id": "B"}},
	})

	select {
	case msg := <-sub.Channel():
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
		require.Equal(t, "run-1", decoded["run_id"])
		require.Equal(t, "token_routed", decoded["type"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
	require.Empty(t, log.errs)
}

func TestPublisherPublishesMultipleEventsInOrder(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()
	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	log := &testLogger{}
	client := redisclient.NewClient(rc, log)

	sub := client.Subscribe(context.Background(), "trace:run-2")
	defer sub.Close()
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	pub := NewPublisher(client, "trace", log)
	pub.Publish(context.Background(), "run-2", []planning.Event{
		{Type: "workflow_started", Payload: nil},
		{Type: "workflow_completed", Payload: map[string]interface{}{"status": "completed"}},
	})

	var types []string
	for i := 0; i < 2; i++ {
		select {
		case msg := <-sub.Channel():
			var decoded map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
			types = append(types, decoded["type"].(string))
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for published event")
		}
	}
	require.Equal(t, []string{"workflow_started", "workflow_completed"}, types)
}

func TestPublisherIsNoOpWithNilRedis(t *testing.T) {
	log := &testLogger{}
	pub := NewPublisher(nil, "trace", log)
	require.NotPanics(t, func() {
		pub.Publish(context.Background(), "run-3", []planning.Event{{Type: "x"}})
	})
	require.Empty(t, log.errs)
}

func TestRecorderRecordsEventsByRunID(t *testing.T) {
	rec := NewRecorder()
	rec.Publish(context.Background(), "run-1", []planning.Event{{Type: "a"}})
	rec.Publish(context.Background(), "run-1", []planning.Event{{Type: "b"}})
	rec.Publish(context.Background(), "run-2", []planning.Event{{Type: "c"}})

	require.Len(t, rec.ByRunID["run-1"], 2)
	require.Equal(t, "a", rec.ByRunID["run-1"][0].Type)
	require.Equal(t, "b", rec.ByRunID["run-1"][1].Type)
	require.Len(t, rec.ByRunID["run-2"], 1)
}
