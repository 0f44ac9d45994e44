package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"calihouse/ml"
)

var sample = ml.HousingFeatures{
	MedianIncome:     3,
	MedianHouseAge:   25,
	AverageRooms:     5,
	AverageBedrooms:  1.5,
	Population:       1000,
	AverageOccupancy: 3,
	Latitude:         37,
	Longitude:        -122,
}

func TestPredict(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    float64
		wantErr bool
		code    int
		detail  string
	}{
		{name: "response key", status: 200, body: `{"response":1.92}`, want: 1.92},
		{name: "predicted_value key", status: 200, body: `{"predicted_value":2.5}`, want: 2.5},
		{name: "no value", status: 200, body: `{"other":1}`, wantErr: true},
		{name: "typed error", status: 503, body: `{"detail":"model artifact not found","error":"artifact_not_found"}`, wantErr: true, code: 503, detail: "model artifact not found"},
		{name: "list detail", status: 422, body: `{"detail":[{"loc":["body","latitude"]}]}`, wantErr: true, code: 422, detail: `[{"loc":["body","latitude"]}]`},
		{name: "plain text error", status: 500, body: "Internal Server Error", wantErr: true, code: 500, detail: "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/predict" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				var got ml.HousingFeatures
				if err := json.NewDecoder(r.Body).Decode(&got); err != nil || got != sample {
					t.Errorf("unexpected body %+v (%v)", got, err)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := New(srv.URL+"/", time.Second).Predict(context.Background(), sample)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if tt.code == 0 {
					return
				}
				var se *StatusError
				if !errors.As(err, &se) {
					t.Fatalf("expected *StatusError, got %T", err)
				}
				if se.Code != tt.code || se.Detail != tt.detail {
					t.Fatalf("unexpected status error %+v", se)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPredictTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(srv.URL, 50*time.Millisecond).Predict(context.Background(), sample)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(`{"status":"healthy"}`))
	}))

	c := New(srv.URL, time.Second)
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status = http.StatusInternalServerError
	var se *StatusError
	if err := c.Health(context.Background()); !errors.As(err, &se) || se.Code != 500 {
		t.Fatalf("expected status error, got %v", err)
	}

	srv.Close()
	if err := c.Health(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable after close, got %v", err)
	}
}
