package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBaseURLFromWebSocket(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "ws://localhost:8123/api/websocket", want: "http://localhost:8123"},
		{in: "wss://hub.example.com/api/websocket", want: "https://hub.example.com"},
		{in: "wss://hub.example.com:8443", want: "https://hub.example.com:8443"},
		{in: "http://localhost:8123", wantErr: true},
		{in: "ws://", wantErr: true},
		{in: "::bad", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := BaseURLFromWebSocket(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrBaseURL) {
					t.Errorf("error = %v, want ErrBaseURL", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNew_RejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "ftp://host", "localhost:8123"} {
		if _, err := New(u, "t"); !errors.Is(err, ErrBaseURL) {
			t.Errorf("New(%q) error = %v, want ErrBaseURL", u, err)
		}
	}
}

func TestSetState(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantCreated bool
		wantStatus  int
	}{
		{name: "created", status: http.StatusCreated, wantCreated: true},
		{name: "updated", status: http.StatusOK},
		{name: "unauthorized", status: http.StatusUnauthorized, wantStatus: http.StatusUnauthorized},
		{name: "bad request", status: http.StatusBadRequest, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotAuth string
			var gotBody stateBody
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotAuth = r.Header.Get("Authorization")
				_ = json.NewDecoder(r.Body).Decode(&gotBody)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"x"}`))
			}))
			defer srv.Close()

			c, err := New(srv.URL, "secret")
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			created, err := c.SetState(context.Background(), "sensor.outside", "21.5", map[string]any{"unit_of_measurement": "°C"})

			if tt.wantStatus != 0 {
				var statusErr *StatusError
				if !errors.As(err, &statusErr) {
					t.Fatalf("SetState() error = %v, want *StatusError", err)
				}
				if statusErr.StatusCode != tt.wantStatus || statusErr.Body != `{"message":"x"}` {
					t.Errorf("StatusError = %+v", statusErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SetState() error = %v", err)
			}
			if created != tt.wantCreated {
				t.Errorf("created = %v, want %v", created, tt.wantCreated)
			}
			if gotPath != "/api/states/sensor.outside" {
				t.Errorf("path = %q", gotPath)
			}
			if gotAuth != "Bearer secret" {
				t.Errorf("Authorization = %q", gotAuth)
			}
			if gotBody.State != "21.5" || gotBody.Attributes["unit_of_measurement"] != "°C" {
				t.Errorf("body = %+v", gotBody)
			}
		})
	}
}

func TestSetState_EmptyEntityID(t *testing.T) {
	c, _ := New("http://localhost:8123", "t")
	if _, err := c.SetState(context.Background(), "", "on", nil); !errors.Is(err, ErrEntityID) {
		t.Errorf("SetState() error = %v, want ErrEntityID", err)
	}
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"message":"API running."}`))
	}))
	defer srv.Close()

	good, _ := New(srv.URL, "good")
	if err := good.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	bad, _ := New(srv.URL, "bad")
	var statusErr *StatusError
	if err := bad.HealthCheck(context.Background()); !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("HealthCheck() error = %v, want 401 StatusError", err)
	}
}
