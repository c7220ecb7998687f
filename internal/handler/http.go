package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/puzzle-records/internal/domain"
	"github.com/puzzle-records/internal/metrics"
	"github.com/puzzle-records/internal/service"
	"github.com/puzzle-records/internal/websocket"
)

// maxBodyBytes bounds a request body. Four full lists of action entries fit
// comfortably.
const maxBodyBytes = 4 << 20

// Handler provides HTTP handlers for the record API
type Handler struct {
	service *service.RecordService
	hub     *websocket.Hub
	metrics *metrics.Metrics
	limiter *RateLimiter
	apiKey  string
	logger  *slog.Logger
}

// Options holds the access policy of mutating routes
type Options struct {
	// APIKey, when set, must be sent in the X-API-Key header
	APIKey string
	// Limiter throttles mutating routes per client address. Nil disables it.
	Limiter *RateLimiter
}

// NewHandler creates a new HTTP handler. hub may be nil, in which case the
// websocket endpoint is not mounted.
func NewHandler(svc *service.RecordService, hub *websocket.Hub, m *metrics.Metrics, opts Options, logger *slog.Logger) *Handler {
	return &Handler{
		service: svc,
		hub:     hub,
		metrics: m,
		limiter: opts.Limiter,
		apiKey:  opts.APIKey,
		logger:  logger,
	}
}

// SessionResponse is returned when a session starts
type SessionResponse struct {
	StartedAt int64 `json:"started_at"`
}

// RenewResponse reports whether a live session was extended
type RenewResponse struct {
	Renewed bool `json:"renewed"`
}

// NicknameRequest renames a player
type NicknameRequest struct {
	Nickname string `json:"nickname"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.metrics.Middleware)
	r.Use(corsMiddleware)

	r.Handle("/metrics", h.metrics.Handler())

	r.Route("/record", func(r chi.Router) {
		if h.hub != nil {
			r.Get("/ws", h.HandleWebSocket)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Compress(5))

			r.Get("/health", h.HealthCheck)
			r.Get("/ready", h.ReadyCheck)

			r.Get("/user", h.NewUser)
			r.Get("/history/{game}/{level}/{userID}", h.GetHistory)
			r.Get("/ranking/{game}/{level}", h.GetRanking)

			r.Group(func(r chi.Router) {
				r.Use(requireAPIKey(h.apiKey))
				if h.limiter != nil {
					r.Use(h.limiter.Middleware)
				}

				r.Post("/", h.SubmitRecord)
				r.Post("/session", h.StartSession)
				r.Post("/session/renew", h.RenewSession)
				r.Patch("/user/{userID}", h.UpdateNickname)
			})
		})
	})

	return r
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error JSON response
func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// fail maps a service error onto a response. Anything that is not the
// caller's fault is logged and hidden behind a generic message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if domain.IsClientError(err) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.logger.Error(op+" failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
	writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, domain.ErrMalformedPayload) || errors.Is(err, domain.ErrMalformedActivity) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

func (h *Handler) limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return h.service.DefaultLimit(), nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.ErrInvalidLimit
	}
	return limit, nil
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyCheck reports whether both stores answer
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ready(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// NewUser hands out a fresh player identity
func (h *Handler) NewUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.NewUser())
}

// UpdateNickname renames a player everywhere
func (h *Handler) UpdateNickname(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req NicknameRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if _, err := h.service.UpdateNickname(r.Context(), userID, req.Nickname); err != nil {
		h.fail(w, r, "update nickname", err)
		return
	}

	writeJSON(w, http.StatusOK, domain.User{UserID: userID, Nickname: strings.TrimSpace(req.Nickname)})
}

// StartSession opens the play session of a player on a board
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	start, err := h.service.StartSession(r.Context(), req)
	if err != nil {
		h.fail(w, r, "start session", err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{StartedAt: start.UnixMilli()})
}

// RenewSession extends a live play session
func (h *Handler) RenewSession(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ok, err := h.service.RenewSession(r.Context(), req)
	if err != nil {
		h.fail(w, r, "renew session", err)
		return
	}

	writeJSON(w, http.StatusOK, RenewResponse{Renewed: ok})
}

// SubmitRecord judges a completion attempt
func (h *Handler) SubmitRecord(w http.ResponseWriter, r *http.Request) {
	var sub domain.Submission
	if err := decodeBody(w, r, &sub); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// the origin is taken from the connection, never from the body
	sub.UserIP = clientIP(r)

	result, err := h.service.Submit(r.Context(), sub)
	if err != nil {
		h.fail(w, r, "submit record", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetHistory returns a player's recent attempts on a board
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := h.limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	records, err := h.service.History(r.Context(),
		chi.URLParam(r, "game"),
		chi.URLParam(r, "level"),
		chi.URLParam(r, "userID"),
		limit,
	)
	if err != nil {
		h.fail(w, r, "get history", err)
		return
	}

	writeJSON(w, http.StatusOK, historyView(records))
}

// GetRanking returns the ranked verified records of a board
func (h *Handler) GetRanking(w http.ResponseWriter, r *http.Request) {
	limit, err := h.limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entries, err := h.service.Ranking(r.Context(), chi.URLParam(r, "game"), chi.URLParam(r, "level"), limit)
	if err != nil {
		h.fail(w, r, "get ranking", err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// HistoryRecord is one attempt as shown to its player
type HistoryRecord struct {
	RecordID     int64  `json:"record_id"`
	GameName     string `json:"game_name"`
	Level        string `json:"level"`
	UserID       string `json:"user_uuid"`
	Nickname     string `json:"nickname"`
	ClearTime    int    `json:"clear_time"`
	Score        int    `json:"score,omitempty"`
	MistakeCount int    `json:"mistake_count"`
	HintCount    int    `json:"hint_count"`
	IsVerified   bool   `json:"is_verified"`
	InsertTS     string `json:"insert_ts"`
}

func historyView(records []domain.Record) []HistoryRecord {
	out := make([]HistoryRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, HistoryRecord{
			RecordID:     rec.ID,
			GameName:     rec.GameName,
			Level:        rec.Level,
			UserID:       rec.UserID,
			Nickname:     rec.Nickname,
			ClearTime:    rec.ClearTime,
			Score:        rec.Score,
			MistakeCount: rec.MistakeCount,
			HintCount:    rec.HintCount,
			IsVerified:   rec.IsVerified,
			InsertTS:     rec.InsertedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}
