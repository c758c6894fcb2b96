package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.ObservePrediction("baseline", "Low", 3*time.Millisecond)
	m.ObservePrediction("baseline", "Low", time.Millisecond)
	m.PredictionFailed("baseline", "encode")
	m.ModelLoaded("baseline", nil)
	m.ModelLoaded("forest", errors.New("corrupt"))
	m.HTTPRequest("POST", "/api/predict", 200)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Predictions.WithLabelValues("baseline", "Low")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PredictionErrors.WithLabelValues("baseline", "encode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelLoads.WithLabelValues("forest", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/api/predict", "200")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PredictionDuration))

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rr.Body.String(), `traindelay_model_loads_total{model="baseline",status="success"} 1`)
}

func TestFeedBroadcastsToClients(t *testing.T) {
	metrics := NewMetrics()
	feed := NewFeed([]string{"http://allowed.test"}, zaptest.NewLogger(t), metrics)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Run(ctx)

	srv := httptest.NewServer(httpHandler(feed))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, _, err := websocket.DefaultDialer.Dial(url, map[string][]string{"Origin": {"http://evil.test"}})
	require.Error(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(url, map[string][]string{"Origin": {"http://allowed.test"}})
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool {
		return feed.Clients() == 1 && testutil.ToFloat64(metrics.FeedClients) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, feed.Publish(FeedMessage, map[string]string{"label": "Low"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, FeedMessage, msg.Type)
	assert.JSONEq(t, `{"label":"Low"}`, string(msg.Data))

	// Echo handler replies to the sender only.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`"hello"`)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, PredictionMessage, msg.Type)
	assert.NotEmpty(t, msg.ID)

	conn.Close()
	require.Eventually(t, func() bool { return feed.Clients() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestNewMessageRejectsUnencodable(t *testing.T) {
	_, err := NewMessage(FeedMessage, make(chan int))
	assert.Error(t, err)

	msg, err := NewMessage(Heartbeat, nil)
	require.NoError(t, err)
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"data"`)
}
