package http

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traindelay/ml"
	"traindelay/monitoring"
)

func dialPredict(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go env.feed.Run(ctx)

	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/predict"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) monitoring.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg monitoring.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketPredictAndFeed(t *testing.T) {
	env := newTestEnv(t, false)
	conn := dialPredict(t, env)

	// Registration happens on the hub goroutine.
	require.Eventually(t, func() bool { return env.feed.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	in := ml.DefaultJourneyInput(fixedNow())
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "predict", "input": in}))

	seen := map[monitoring.MessageType]monitoring.Message{}
	for len(seen) < 2 {
		msg := readMessage(t, conn)
		seen[msg.Type] = msg
	}
	require.Contains(t, seen, monitoring.PredictionMessage)
	require.Contains(t, seen, monitoring.FeedMessage)
	assert.Contains(t, string(seen[monitoring.PredictionMessage].Data), `"label":"No Delay"`)
	assert.Contains(t, string(seen[monitoring.FeedMessage].Data), `"model":"baseline"`)
}

func TestWebSocketErrors(t *testing.T) {
	env := newTestEnv(t, false)
	conn := dialPredict(t, env)

	in := ml.DefaultJourneyInput(fixedNow())
	in.Pantry = "Sometimes"
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "predict", "input": in}))
	msg := readMessage(t, conn)
	assert.Equal(t, monitoring.ErrorMessage, msg.Type)
	assert.Contains(t, msg.Error, "pantry")
	assert.Contains(t, string(msg.Data), `"field":"pantry"`)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe"}))
	msg = readMessage(t, conn)
	assert.Equal(t, monitoring.ErrorMessage, msg.Type)
	assert.Contains(t, msg.Error, "unknown message type")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	msg = readMessage(t, conn)
	assert.Equal(t, monitoring.Heartbeat, msg.Type)
}
