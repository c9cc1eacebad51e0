package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/xraph/courier/api"
	"github.com/xraph/courier/middleware"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClient(srv *httptest.Server) *api.HTTPClient {
	return api.NewHTTP(srv.URL, "svc-token",
		api.WithLogger(testLogger()),
		api.WithMiddleware(middleware.Recover(testLogger())),
	)
}

func TestCreateExperience_Success(t *testing.T) {
	var gotAuth, gotPath, gotMethod string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":                "exp-1",
			"rendering":         true,
			"moderation_status": "pending",
		})
	}))
	defer srv.Close()

	exp, err := newClient(srv).CreateExperience(context.Background(), &api.CreateRequest{
		Inventory: json.RawMessage(`{"name":"Ada"}`),
		Render:    true,
		CorrelID:  "uuid-1",
	})
	if err != nil {
		t.Fatalf("CreateExperience: %v", err)
	}

	if exp.ID != "exp-1" || !exp.Rendering {
		t.Errorf("experience = %+v, want exp-1 rendering", exp)
	}
	if gotMethod != http.MethodPost || gotPath != "/experience" {
		t.Errorf("request = %s %s, want POST /experience", gotMethod, gotPath)
	}
	if gotAuth != "Bearer svc-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody["correlation_id"] != "uuid-1" {
		t.Errorf("correlation_id = %v, want uuid-1", gotBody["correlation_id"])
	}
	if gotBody["render"] != true {
		t.Errorf("render = %v, want true", gotBody["render"])
	}
}

func TestCreateExperience_UploadProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "exp-1", "moderation_status": "pending"})
	}))
	defer srv.Close()

	var mu sync.Mutex
	var fractions []float64
	_, err := newClient(srv).CreateExperience(context.Background(), &api.CreateRequest{
		Inventory: json.RawMessage(`{"blob":"large-ish inventory payload for upload tracking"}`),
		CorrelID:  "uuid-2",
		OnProgress: func(f float64) {
			mu.Lock()
			fractions = append(fractions, f)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("CreateExperience: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fractions) == 0 {
		t.Fatal("no progress reported")
	}
	if last := fractions[len(fractions)-1]; last != 1 {
		t.Errorf("final progress = %v, want 1", last)
	}
	for i := 1; i < len(fractions); i++ {
		if fractions[i] < fractions[i-1] {
			t.Errorf("progress went backwards: %v", fractions)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		code      int
		conflict  bool
		quota     bool
		transient bool
	}{
		{http.StatusConflict, true, false, false},
		{http.StatusTooManyRequests, false, true, false},
		{http.StatusInternalServerError, false, false, true},
		{http.StatusBadGateway, false, false, true},
		{http.StatusRequestTimeout, false, false, true},
		{http.StatusNotFound, false, false, false},
		{http.StatusBadRequest, false, false, false},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.code)
		}))
		_, err := newClient(srv).GetExperience(context.Background(), "exp-1")
		srv.Close()

		if err == nil {
			t.Fatalf("status %d: want error", tt.code)
		}
		if got := api.IsConflict(err); got != tt.conflict {
			t.Errorf("status %d: IsConflict = %v, want %v", tt.code, got, tt.conflict)
		}
		if got := api.IsQuotaExceeded(err); got != tt.quota {
			t.Errorf("status %d: IsQuotaExceeded = %v, want %v", tt.code, got, tt.quota)
		}
		if got := api.IsTransient(err); got != tt.transient {
			t.Errorf("status %d: IsTransient = %v, want %v", tt.code, got, tt.transient)
		}
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse all connections

	_, err := newClient(srv).GetExperience(context.Background(), "exp-1")
	if err == nil {
		t.Fatal("want error against closed server")
	}
	if !api.IsTransient(err) {
		t.Errorf("network error not classified transient: %v", err)
	}
}

func TestTriggerRender_ForwardsRoutingIDs(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := newClient(srv).TriggerRender(context.Background(), "exp-3", "scene-1", "act-2"); err != nil {
		t.Fatalf("TriggerRender: %v", err)
	}
	if gotPath != "/experience/exp-3/trigger" {
		t.Errorf("path = %q, want /experience/exp-3/trigger", gotPath)
	}
	if gotBody["scene_id"] != "scene-1" || gotBody["act_id"] != "act-2" {
		t.Errorf("body = %v, want scene/act ids forwarded", gotBody)
	}
}

func TestGetExperience_Path(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/experience/exp-9" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "exp-9", "rendering": false, "moderation_status": "approved",
			"output": map[string]any{"mp4": "u"},
		})
	}))
	defer srv.Close()

	exp, err := newClient(srv).GetExperience(context.Background(), "exp-9")
	if err != nil {
		t.Fatalf("GetExperience: %v", err)
	}
	if !exp.Resolved() {
		t.Errorf("experience not resolved: %+v", exp)
	}
}
