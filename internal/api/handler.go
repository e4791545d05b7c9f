// Package api exposes the pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/limbic-flow/internal/affect"
	"github.com/nidhogg/limbic-flow/internal/affectlog"
	"github.com/nidhogg/limbic-flow/internal/embedding"
	"github.com/nidhogg/limbic-flow/internal/gateway"
	"github.com/nidhogg/limbic-flow/internal/memory"
	"github.com/nidhogg/limbic-flow/internal/neocortex"
	"github.com/nidhogg/limbic-flow/internal/provider"
	"github.com/nidhogg/limbic-flow/internal/turn"
	"go.uber.org/zap"
)

const (
	defaultMemoryLimit = 20
	maxMemoryLimit     = 200
	maxBodyBytes       = 1 << 20
)

// Turner runs one conversational turn. *pipeline.Pipeline satisfies it.
type Turner interface {
	Turn(ctx context.Context, input string, tctx map[string]any) (*turn.State, error)
}

// Handler holds dependencies for HTTP handlers. Router, neocortex and
// gateway are optional.
type Handler struct {
	turns    Turner
	engine   *affect.Engine
	history  affectlog.Log
	memories *memory.Store
	embedder embedding.Provider
	router   *provider.Router
	cortex   neocortex.Store
	gw       *gateway.Gateway
	started  time.Time
	logger   *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	turns Turner,
	engine *affect.Engine,
	history affectlog.Log,
	memories *memory.Store,
	embedder embedding.Provider,
	router *provider.Router,
	cortex neocortex.Store,
	gw *gateway.Gateway,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		turns:    turns,
		engine:   engine,
		history:  history,
		memories: memories,
		embedder: embedder,
		router:   router,
		cortex:   cortex,
		gw:       gw,
		started:  time.Now(),
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/turns", h.processTurn)

		r.Get("/affect", h.currentAffect)
		r.Get("/affect/latest", h.latestAffect)
		r.Get("/affect/history", h.affectHistory)

		r.Get("/memories", h.listMemories)
		r.Get("/memories/{id}", h.getMemory)

		r.Get("/knowledge/relationships", h.listRelationships)
		r.Get("/providers", h.listProviders)
		r.Get("/gateway/status", h.gatewayStatus)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"service":  "limbic",
		"uptime":   time.Since(h.started).Round(time.Second).String(),
		"memories": h.memories.Len(),
	})
}

type turnRequest struct {
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

func (h *Handler) processTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	s, err := h.turns.Turn(r.Context(), req.Message, req.Context)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	h.logger.Info("turn served",
		zap.String("turn_id", s.TurnID),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Int("warnings", len(s.Warnings)))
	writeJSON(w, http.StatusOK, s)
}

type affectResponse struct {
	affect.Snapshot
	Description string `json:"description"`
}

func (h *Handler) currentAffect(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.State()
	writeJSON(w, http.StatusOK, affectResponse{Snapshot: snap, Description: affect.Describe(snap)})
}

func (h *Handler) latestAffect(w http.ResponseWriter, r *http.Request) {
	snap, ok, err := h.history.Latest(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no affect history yet")
		return
	}
	writeJSON(w, http.StatusOK, affectResponse{Snapshot: snap, Description: affect.Describe(snap)})
}

func (h *Handler) affectHistory(w http.ResponseWriter, r *http.Request) {
	q, err := parseHistoryQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snaps, err := h.history.History(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snaps == nil {
		snaps = []affect.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// parseHistoryQuery reads since/until (RFC 3339) and limit.
func parseHistoryQuery(r *http.Request) (affectlog.Query, error) {
	var q affectlog.Query
	v := r.URL.Query()
	if s := v.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, errors.New("since: expected RFC 3339 time")
		}
		q.Since = t
	}
	if s := v.Get("until"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, errors.New("until: expected RFC 3339 time")
		}
		q.Until = t
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Until.Before(q.Since) {
		return q, errors.New("until is before since")
	}
	limit, err := parseLimit(v.Get("limit"), affectlog.DefaultHistoryLimit, 1000)
	if err != nil {
		return q, err
	}
	q.Limit = limit
	return q, nil
}

func parseLimit(s string, def, max int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.New("limit: expected a positive integer")
	}
	return min(n, max), nil
}

// listMemories returns the newest records, or with ?q= the best matches for
// the text ranked the same way turns recall them.
func (h *Handler) listMemories(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), defaultMemoryLimit, maxMemoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if text := strings.TrimSpace(r.URL.Query().Get("q")); text != "" {
		vec, err := embedding.EmbedOne(r.Context(), h.embedder, text)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		scored := h.memories.Retrieve(r.Context(), vec, limit)
		if scored == nil {
			scored = []memory.Scored{}
		}
		writeJSON(w, http.StatusOK, scored)
		return
	}

	all := h.memories.All()
	slices.Reverse(all)
	if len(all) > limit {
		all = all[:limit]
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *Handler) getMemory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be an integer")
		return
	}
	rec, ok := h.memories.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) listRelationships(w http.ResponseWriter, r *http.Request) {
	if h.cortex == nil {
		writeError(w, http.StatusServiceUnavailable, "neocortex not initialized")
		return
	}
	v := r.URL.Query()
	rels, err := h.cortex.Relationships(r.Context(), neocortex.Filter{
		Subject:   v.Get("subject"),
		Predicate: v.Get("predicate"),
		Object:    v.Get("object"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rels == nil {
		rels = []neocortex.Relationship{}
	}
	writeJSON(w, http.StatusOK, rels)
}

type providerInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	out := []providerInfo{}
	if h.router != nil {
		def := h.router.DefaultID()
		for _, p := range h.router.ListProviders() {
			out = append(out, providerInfo{ID: p.ID(), Name: p.Name(), Default: p.ID() == def})
		}
		slices.SortFunc(out, func(a, b providerInfo) int { return strings.Compare(a.ID, b.ID) })
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	if h.gw == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway not initialized")
		return
	}
	writeJSON(w, http.StatusOK, h.gw.StatusAll())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
