package api

import (
	"bytes"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nidhogg/limbic-flow/internal/affect"
	"github.com/nidhogg/limbic-flow/internal/affectlog"
	"github.com/nidhogg/limbic-flow/internal/articulation"
	"github.com/nidhogg/limbic-flow/internal/brain"
	"github.com/nidhogg/limbic-flow/internal/embedding"
	"github.com/nidhogg/limbic-flow/internal/memory"
	"github.com/nidhogg/limbic-flow/internal/neocortex"
	"github.com/nidhogg/limbic-flow/internal/pathology"
	"github.com/nidhogg/limbic-flow/internal/pipeline"
	"github.com/nidhogg/limbic-flow/internal/provider"
	"go.uber.org/zap"
)

// newTestServer wires a full in-process pipeline: in-memory affect log,
// temp-dir memory index, hashing embedder and the mock language model.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()

	alog := affectlog.NewMemoryLog()
	engine := affect.NewEngine(affect.DefaultConfig(), alog, logger)
	store := memory.NewStore(filepath.Join(t.TempDir(), "memories.json"), logger)
	embedder := embedding.NewHashProvider(64)

	router := provider.NewRouter(logger)
	router.Register(provider.NewMockProvider(provider.ProviderConfig{ID: "mock", Name: "Mock"}))
	cortex := neocortex.NewMemoryStore()

	p, err := pipeline.New(pipeline.Deps{
		Affect:      engine,
		Memory:      store,
		Pathology:   pathology.NewManager(logger),
		Embedder:    embedder,
		Brain:       brain.New(router, nil, nil, brain.DefaultConfig(), logger),
		Articulator: articulation.NewEngine(articulation.DefaultConfig(), rand.New(rand.NewPCG(1, 2))),
		Neocortex:   cortex,
	}, pipeline.DefaultConfig(), logger)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	h := NewHandler(p, engine, alog, store, embedder, router, cortex, nil, logger)
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		defer resp.Body.Close()
		var body map[string]any
		json.NewDecoder(resp.Body).Decode(&body)
		t.Fatalf("expected %d, got %d (%v)", want, resp.StatusCode, body)
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	resp := getJSON(t, ts, "/api/health")
	expectStatus(t, resp, http.StatusOK)
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
	if body["memories"] != float64(0) {
		t.Errorf("expected 0 memories, got %v", body["memories"])
	}
}

type turnBody struct {
	TurnID    string            `json:"turn_id"`
	ReplyText string            `json:"reply_text"`
	UserInfo  map[string]string `json:"user_info"`
	Actions   []struct {
		Action  string `json:"action"`
		Content string `json:"content"`
	} `json:"actions"`
	Warnings []string `json:"warnings"`
}

func TestTurnLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts, "/api/turns", map[string]any{"message": "你好，我叫阿皓"})
	expectStatus(t, resp, http.StatusOK)
	var turn turnBody
	decodeJSON(t, resp, &turn)

	if turn.TurnID == "" {
		t.Fatal("expected a turn id")
	}
	if turn.ReplyText != "你好！很高兴见到你。今天过得怎么样？" {
		t.Errorf("unexpected reply %q", turn.ReplyText)
	}
	if turn.UserInfo["name"] != "阿皓" {
		t.Errorf("expected extracted name, got %v", turn.UserInfo)
	}
	var joined strings.Builder
	for _, a := range turn.Actions {
		if a.Action == "message" {
			joined.WriteString(a.Content)
		}
	}
	if joined.String() != turn.ReplyText {
		t.Errorf("messages %q do not cover reply %q", joined.String(), turn.ReplyText)
	}
	if len(turn.Warnings) != 0 {
		t.Errorf("unexpected warnings %v", turn.Warnings)
	}

	// The turn is remembered.
	resp = getJSON(t, ts, "/api/memories")
	expectStatus(t, resp, http.StatusOK)
	var recs []memory.Record
	decodeJSON(t, resp, &recs)
	if len(recs) != 1 || recs[0].UserUtterance != "你好，我叫阿皓" {
		t.Fatalf("expected the turn in memory, got %+v", recs)
	}

	resp = getJSON(t, ts, "/api/memories/0")
	expectStatus(t, resp, http.StatusOK)
	var rec memory.Record
	decodeJSON(t, resp, &rec)
	if rec.SystemReply != turn.ReplyText {
		t.Errorf("stored reply %q, want %q", rec.SystemReply, turn.ReplyText)
	}

	resp = getJSON(t, ts, "/api/memories?q=%E4%BD%A0%E5%A5%BD&limit=3")
	expectStatus(t, resp, http.StatusOK)
	var scored []memory.Scored
	decodeJSON(t, resp, &scored)
	if len(scored) != 1 || scored[0].Score <= 0 {
		t.Errorf("expected one positive match, got %+v", scored)
	}

	// The affect curve moved and was logged.
	resp = getJSON(t, ts, "/api/affect")
	expectStatus(t, resp, http.StatusOK)
	var cur struct {
		Affect      map[string]float64 `json:"affect"`
		Description string             `json:"description"`
	}
	decodeJSON(t, resp, &cur)
	if cur.Affect["pleasure"] <= 0 || cur.Description == "" {
		t.Errorf("expected positive pleasure with a description, got %+v", cur)
	}

	resp = getJSON(t, ts, "/api/affect/history?limit=1")
	expectStatus(t, resp, http.StatusOK)
	var hist []affect.Snapshot
	decodeJSON(t, resp, &hist)
	if len(hist) != 1 || hist[0].Context["source"] != "stress_reward" {
		t.Errorf("expected the newest stress/reward snapshot, got %+v", hist)
	}

	resp = getJSON(t, ts, "/api/affect/latest")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// The name reached semantic memory.
	resp = getJSON(t, ts, "/api/knowledge/relationships?subject=user&predicate=named")
	expectStatus(t, resp, http.StatusOK)
	var rels []neocortex.Relationship
	decodeJSON(t, resp, &rels)
	if len(rels) != 1 || rels[0].Object != "阿皓" {
		t.Errorf("expected user named 阿皓, got %+v", rels)
	}
}

func TestTurnValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts, "/api/turns", map[string]any{"message": "   "})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp, err := http.Post(ts.URL+"/api/turns", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestAffectEndpointsOnEmptyLog(t *testing.T) {
	ts := newTestServer(t)

	resp := getJSON(t, ts, "/api/affect/latest")
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/affect/history")
	expectStatus(t, resp, http.StatusOK)
	var hist []affect.Snapshot
	decodeJSON(t, resp, &hist)
	if hist == nil || len(hist) != 0 {
		t.Errorf("expected an empty JSON array, got %v", hist)
	}

	for _, q := range []string{"since=yesterday", "until=nope", "limit=-1", "limit=x",
		"since=2025-01-02T00:00:00Z&until=2025-01-01T00:00:00Z"} {
		resp = getJSON(t, ts, "/api/affect/history?"+q)
		expectStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	}
}

func TestMemoryLookupErrors(t *testing.T) {
	ts := newTestServer(t)

	resp := getJSON(t, ts, "/api/memories/abc")
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/memories/42")
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/memories?q=anything")
	expectStatus(t, resp, http.StatusOK)
	var scored []memory.Scored
	decodeJSON(t, resp, &scored)
	if len(scored) != 0 {
		t.Errorf("expected no matches on an empty store, got %d", len(scored))
	}
}

func TestProvidersAndGateway(t *testing.T) {
	ts := newTestServer(t)

	resp := getJSON(t, ts, "/api/providers")
	expectStatus(t, resp, http.StatusOK)
	var provs []providerInfo
	decodeJSON(t, resp, &provs)
	if len(provs) != 1 || provs[0].ID != "mock" || !provs[0].Default {
		t.Errorf("expected mock as default provider, got %+v", provs)
	}

	resp = getJSON(t, ts, "/api/gateway/status")
	expectStatus(t, resp, http.StatusServiceUnavailable)
	resp.Body.Close()
}
