// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"klipper-go-movequeue/pkg/config"
)

func TestServerMetrics(t *testing.T) {
	qm := NewQueueMetrics()
	qm.Events.Inc(Labels{"event": "armed"})
	srv := NewServer(qm, DefaultServerConfig())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `movequeue_events_total{event="armed"} 1`) {
		t.Errorf("body missing counter:\n%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status %d", rec.Code)
	}
}

func TestServerBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultServerConfig()
	cfg.Username = "prom"
	cfg.PasswordHash = string(hash)
	srv := NewServer(NewQueueMetrics(), cfg)

	for _, tc := range []struct {
		user, pass string
		set        bool
		want       int
	}{
		{want: http.StatusUnauthorized},
		{user: "prom", pass: "wrong", set: true, want: http.StatusUnauthorized},
		{user: "other", pass: "s3cret", set: true, want: http.StatusUnauthorized},
		{user: "prom", pass: "s3cret", set: true, want: http.StatusOK},
	} {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		if tc.set {
			req.SetBasicAuth(tc.user, tc.pass)
		}
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s/%s: status %d, want %d", tc.user, tc.pass, rec.Code, tc.want)
		}
	}
}

func TestServerStart(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Address = "127.0.0.1:0"
	srv := NewServer(NewQueueMetrics(), cfg)
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer srv.Shutdown(context.Background())

	resp, err := http.Get("http://" + srv.Addr().String() + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "OK\n" {
		t.Errorf("health body %q", body)
	}
}

func TestLoadServerConfig(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	cfg, err := config.LoadString("[metrics]\naddress: 127.0.0.1:9200\nusername: u\npassword_hash: " + string(hash) + "\n")
	if err != nil {
		t.Fatal(err)
	}
	sc, ok, err := LoadServerConfig(cfg)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if sc.Address != "127.0.0.1:9200" || sc.Username != "u" {
		t.Errorf("unexpected %+v", sc)
	}

	cfg, _ = config.LoadString("[metrics]\nusername: u\n")
	if _, _, err := LoadServerConfig(cfg); err == nil {
		t.Error("username without hash accepted")
	}
	cfg, _ = config.LoadString("[metrics]\nusername: u\npassword_hash: plain\n")
	if _, _, err := LoadServerConfig(cfg); err == nil {
		t.Error("non-bcrypt hash accepted")
	}
}
