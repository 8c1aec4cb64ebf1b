package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"drivepower/client/internal/chat"
	"drivepower/client/internal/config"
)

type fakeGuard struct {
	valid    bool
	expiring bool
	checks   int32
}

func (f *fakeGuard) CheckAuth(context.Context) bool {
	atomic.AddInt32(&f.checks, 1)
	return f.valid
}

func (f *fakeGuard) ExpiresWithin(time.Duration) bool { return f.expiring }

type fakeHub struct{ disconnects int }

func (f *fakeHub) Disconnect() { f.disconnects++ }

type fakeSession bool

func (f fakeSession) IsAuthenticated() bool { return bool(f) }

type fakeRefresher struct {
	calls int
	err   error
}

func (f *fakeRefresher) FetchStations(context.Context) error {
	f.calls++
	return f.err
}

func TestSessionCheckJobDisconnectsExpiredSession(t *testing.T) {
	hub := &fakeHub{}
	job := SessionCheckJob(&fakeGuard{valid: false}, hub, time.Minute, zap.NewNop())
	if err := job(context.Background()); err != nil {
		t.Fatalf("job: %v", err)
	}
	if hub.disconnects != 1 {
		t.Fatalf("expected disconnect on expired session, got %d", hub.disconnects)
	}

	hub = &fakeHub{}
	job = SessionCheckJob(&fakeGuard{valid: true, expiring: true}, hub, time.Minute, zap.NewNop())
	if err := job(context.Background()); err != nil {
		t.Fatalf("job: %v", err)
	}
	if hub.disconnects != 0 {
		t.Fatalf("valid session must keep the hub connection")
	}
}

func TestStationsRefreshJobRequiresSession(t *testing.T) {
	refresher := &fakeRefresher{}
	if err := StationsRefreshJob(fakeSession(false), refresher)(context.Background()); err != nil {
		t.Fatalf("job: %v", err)
	}
	if refresher.calls != 0 {
		t.Fatalf("signed out refresh must be skipped")
	}

	refresher.err = errors.New("boom")
	if err := StationsRefreshJob(fakeSession(true), refresher)(context.Background()); err == nil {
		t.Fatalf("expected refresh error to surface")
	}
	if refresher.calls != 1 {
		t.Fatalf("expected one refresh, got %d", refresher.calls)
	}
}

func TestSchedulerRunsJobs(t *testing.T) {
	scheduler := NewScheduler(zap.NewNop())
	if err := scheduler.Add("not a spec", "bad", func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected invalid spec error")
	}

	guard := &fakeGuard{valid: true}
	if err := scheduler.Add("@every 1s", "session-check", SessionCheckJob(guard, nil, 0, zap.NewNop())); err != nil {
		t.Fatalf("add: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&guard.checks) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("scheduled job never ran")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func newTestConfig(baseURL string) *config.Config {
	cfg := &config.Config{}
	cfg.API.BaseURL = baseURL
	cfg.API.Timeout = time.Second
	cfg.Hub.Path = "/hubs/chat"
	cfg.TokenStore.Driver = config.TokenStoreMemory
	cfg.Schedule.SessionCheck = "@every 1m"
	cfg.Schedule.StationsRefresh = "@every 5m"
	return cfg
}

func TestNewWiresStoresWithSharedIdentity(t *testing.T) {
	var authHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	application, err := New(context.Background(), newTestConfig(srv.URL+"/api"), zap.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer application.Close()

	if application.Restore(context.Background()) {
		t.Fatalf("empty token store must not authenticate")
	}
	if err := application.Stations.FetchStations(context.Background()); err != nil {
		t.Fatalf("fetch stations: %v", err)
	}
	if got, _ := authHeader.Load().(string); got != "" {
		t.Fatalf("anonymous request must not carry a token, got %q", got)
	}
	if application.Chat.Status() != chat.StatusDisconnected {
		t.Fatalf("chat must start disconnected")
	}
	if err := application.StartScheduler(); err != nil {
		t.Fatalf("start scheduler: %v", err)
	}
}

func TestNewRejectsBadHubBase(t *testing.T) {
	cfg := newTestConfig("ftp://example.com/api")
	if _, err := New(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatalf("expected hub url error")
	}
}
