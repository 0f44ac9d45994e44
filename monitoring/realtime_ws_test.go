package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHubPublishPrediction(t *testing.T) {
	hub := NewHub(nil)
	go hub.Start()
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return hub.ClientCount() == 1 })
	waitFor(t, func() bool { return testutil.ToFloat64(WebSocketClients) == 1 })

	value := 1.92
	hub.PublishPrediction(PredictionEvent{RequestID: "req-42", Features: map[string]float64{"median_income": 3}, Response: &value, LatencyMs: 0.2})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("invalid message: %v", err)
	}
	if msg.Type != PredictionMessage || msg.ID != "req-42" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	var event PredictionEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		t.Fatalf("invalid event: %v", err)
	}
	if event.Response == nil || *event.Response != value {
		t.Fatalf("unexpected event: %+v", event)
	}

	conn.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}

func TestHubStopClosesClients(t *testing.T) {
	hub := NewHub(nil)
	done := make(chan struct{})
	go func() {
		hub.Start()
		close(done)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	hub.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to be closed")
	}
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(PredictionsTotal.WithLabelValues("ok"))
	RecordPrediction("ok", time.Millisecond)
	if got := testutil.ToFloat64(PredictionsTotal.WithLabelValues("ok")); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}

	errBefore := testutil.ToFloat64(ModelLoadsTotal.WithLabelValues("error"))
	RecordModelLoad(http.ErrServerClosed)
	if got := testutil.ToFloat64(ModelLoadsTotal.WithLabelValues("error")); got != errBefore+1 {
		t.Fatalf("expected %v, got %v", errBefore+1, got)
	}

	RecordHTTPRequest("POST", "/predict", 200, time.Millisecond)
	if testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/predict", "200")) < 1 {
		t.Fatal("expected http request counter to increase")
	}
}
