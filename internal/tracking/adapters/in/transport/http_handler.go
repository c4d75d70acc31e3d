package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"walktrack/internal/shared/logger"
	"walktrack/internal/tracking/adapters/in/pingcodec"
	in "walktrack/internal/tracking/application/ports/in"
	"walktrack/internal/tracking/domain"

	"github.com/juju/clock"
)

const maxRequestBodySize = 64 << 10

// ViewerCounter reports live viewers for the health probe.
type ViewerCounter interface {
	ConnectedCount() int
}

type Handler struct {
	trackUC   in.TrackLocationUseCase
	historyUC in.LocationHistoryUseCase
	viewers   ViewerCounter
	clock     clock.Clock
	log       *logger.Logger
}

func NewHandler(
	trackUC in.TrackLocationUseCase,
	historyUC in.LocationHistoryUseCase,
	viewers ViewerCounter,
	clk clock.Clock,
	log *logger.Logger,
) *Handler {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Handler{
		trackUC:   trackUC,
		historyUC: historyUC,
		viewers:   viewers,
		clock:     clk,
		log:       log,
	}
}

// RegisterRoutes mounts the HTTP API on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/location/track", h.TrackLocation)
	mux.HandleFunc("GET /api/v1/location/history", h.LocationHistory)
	mux.HandleFunc("GET /health", h.Health)
}

// Health is the liveness probe with the live viewer count.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	viewers := 0
	if h.viewers != nil {
		viewers = h.viewers.ConnectedCount()
	}
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Service: "tracking", Viewers: viewers})
}

// TrackLocation handles POST /api/v1/location/track
func (h *Handler) TrackLocation(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		h.respondUseCaseError(w, r, "track_location_invalid_request", fmt.Errorf("%w: %s", domain.ErrMalformedPing, err.Error()))
		return
	}

	input, err := pingcodec.Decode(r.Header.Get("Content-Type"), body, h.clock.Now())
	if err != nil {
		h.respondUseCaseError(w, r, "track_location_invalid_request", err)
		return
	}

	input.SessionID = SessionIDFromContext(r.Context())
	if id, ok := IdentityFromContext(r.Context()); ok {
		input.WalkerID = id.UserID
	}

	loc, err := h.trackUC.Execute(r.Context(), input)
	if err != nil {
		h.respondUseCaseError(w, r, "track_location_failed", err)
		return
	}

	respondJSON(w, http.StatusCreated, loc)
}

// LocationHistory handles GET /api/v1/location/history?start=&end=&limit=
func (h *Handler) LocationHistory(w http.ResponseWriter, r *http.Request) {
	input, err := parseHistoryQuery(r.URL.Query())
	if err != nil {
		h.respondUseCaseError(w, r, "location_history_invalid_request", err)
		return
	}
	input.SessionID = SessionIDFromContext(r.Context())

	output, err := h.historyUC.Execute(r.Context(), input)
	if err != nil {
		h.respondUseCaseError(w, r, "location_history_failed", err)
		return
	}

	respondJSON(w, http.StatusOK, output)
}

func parseHistoryQuery(q url.Values) (in.LocationHistoryInput, error) {
	var (
		input in.LocationHistoryInput
		err   error
	)

	if input.Start, err = parseInstant(q.Get("start"), "start"); err != nil {
		return input, err
	}
	if input.End, err = parseInstant(q.Get("end"), "end"); err != nil {
		return input, err
	}

	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 0 {
			return input, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrInvalidTimeRange)
		}
		input.Limit = n
	}
	return input, nil
}

func parseInstant(raw, name string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", domain.ErrInvalidTimeRange, name)
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC3339", domain.ErrInvalidTimeRange, name)
	}
	return ts, nil
}

// respondUseCaseError maps domain errors to status codes. Validation
// messages go back to the client, everything else stays in the log.
func (h *Handler) respondUseCaseError(w http.ResponseWriter, r *http.Request, action string, err error) {
	entry := logger.Entry{
		Action:    action,
		Message:   err.Error(),
		RequestID: RequestIDFromContext(r.Context()),
		SessionID: SessionIDFromContext(r.Context()),
	}

	switch {
	case errors.Is(err, domain.ErrValidation):
		h.log.Debug(entry)
		respondError(w, http.StatusBadRequest, classValidation, err.Error())
	case errors.Is(err, domain.ErrPersistence):
		entry.Error = &logger.ErrObj{Msg: err.Error()}
		h.log.Error(entry)
		respondError(w, http.StatusInternalServerError, classPersistence, "location store unavailable")
	default:
		entry.Error = &logger.ErrObj{Msg: err.Error()}
		h.log.Error(entry)
		respondError(w, http.StatusInternalServerError, classInternal, "internal error")
	}
}

func readBody(r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, class, message string) {
	respondJSON(w, status, ErrorResponse{Error: class, Message: message})
}

func respondUnauthorized(w http.ResponseWriter) {
	respondError(w, http.StatusUnauthorized, classUnauthorized, "invalid or expired token")
}
