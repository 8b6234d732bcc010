package alerts

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudnet/backend/internal/models"
)

type countingMetrics struct {
	connected    atomic.Int64
	disconnected atomic.Int64
	dropped      atomic.Int64
}

func (m *countingMetrics) ClientConnected()    { m.connected.Add(1) }
func (m *countingMetrics) ClientDisconnected() { m.disconnected.Add(1) }
func (m *countingMetrics) RecordAlertDropped() { m.dropped.Add(1) }

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/alerts"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.ClientCount() == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastReachesAllClients(t *testing.T) {
	metrics := &countingMetrics{}
	hub := NewHub(metrics, slog.Default())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleAlerts))
	defer srv.Close()

	c1 := dial(t, srv)
	defer c1.Close()
	c2 := dial(t, srv)
	defer c2.Close()
	waitForClients(t, hub, 2)
	assert.Equal(t, int64(2), metrics.connected.Load())

	hub.Broadcast(&models.RiskResponse{
		TxID:      "tx_1",
		RiskScore: 81.5,
		RiskLevel: models.RiskHigh,
	})

	for _, conn := range []*websocket.Conn{c1, c2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)

		var alert models.RiskResponse
		require.NoError(t, json.Unmarshal(payload, &alert))
		assert.Equal(t, "tx_1", alert.TxID)
		assert.Equal(t, 81.5, alert.RiskScore)
	}
	assert.Zero(t, metrics.dropped.Load())
}

func TestClientDisconnectDeregisters(t *testing.T) {
	metrics := &countingMetrics{}
	hub := NewHub(metrics, slog.Default())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleAlerts))
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
	assert.Equal(t, int64(1), metrics.disconnected.Load())

	// Broadcasting into an empty hub is a no-op.
	hub.Broadcast(&models.RiskResponse{TxID: "tx_2"})
}

func TestCloseDisconnectsEveryClient(t *testing.T) {
	hub := NewHub(nil, slog.Default())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleAlerts))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	waitForClients(t, hub, 1)

	hub.Close()
	waitForClients(t, hub, 0)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestSlowClientDropsAlertsInsteadOfBlocking(t *testing.T) {
	metrics := &countingMetrics{}
	hub := NewHub(metrics, slog.Default())

	// A registered client with a full send buffer and no pumps running.
	stuck := &client{
		hub:  hub,
		send: make(chan []byte),
		done: make(chan struct{}),
	}
	hub.clients[stuck] = struct{}{}

	done := make(chan struct{})
	go func() {
		hub.Broadcast(&models.RiskResponse{TxID: "tx_3"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
	assert.Equal(t, int64(1), metrics.dropped.Load())
}
