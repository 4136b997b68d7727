package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"pajamaparty/telemetry/internal/models"
	"pajamaparty/telemetry/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// batchEnvelope is the batch wire form. A body without an "events" key is
// treated as a single flattened event, the legacy shape older senders use.
type batchEnvelope struct {
	Events []json.RawMessage `json:"events"`
	SentAt int64             `json:"sent_at"`
}

type ingestResponse struct {
	Status     string `json:"status"`
	Accepted   int    `json:"accepted"`
	Duplicates int    `json:"duplicates"`
	Invalid    int    `json:"invalid,omitempty"`
}

type EventsHandler struct {
	store        *storage.EventStore
	maxBodyBytes int64
	logger       *zap.Logger
}

func NewEventsHandler(store *storage.EventStore, maxBodyBytes int64, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		store:        store,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// Ingest accepts a batch {"events": [...]} or a single flattened event, in
// either the compact or the full key shape. Invalid events are skipped
// individually; the whole request fails only when nothing is decodable.
func (h *EventsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Debug("Failed to read request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	var envelope batchEnvelope
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Events != nil {
		raws = envelope.Events
	} else {
		// Legacy single-event form: the body is the event itself.
		raws = []json.RawMessage{body}
	}

	events := make([]models.Event, 0, len(raws))
	invalid := 0
	for _, raw := range raws {
		ev, err := models.DecodeWireEvent(raw)
		if err != nil {
			invalid++
			continue
		}
		ev.Data = models.SanitizeData(ev.Data)
		if err := ev.Validate(); err != nil {
			invalid++
			continue
		}
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		events = append(events, ev)
	}

	if len(events) == 0 {
		h.logger.Debug("Rejecting request with no decodable events",
			zap.Int("raw_count", len(raws)),
			zap.Int("invalid", invalid),
		)
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	accepted, duplicates, err := h.store.InsertBatch(events)
	if err != nil {
		h.logger.Error("Failed to store events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to store events")
		return
	}

	h.logger.Info("Ingested event batch",
		zap.Int("accepted", accepted),
		zap.Int("duplicates", duplicates),
		zap.Int("invalid", invalid),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(ingestResponse{
		Status:     "ok",
		Accepted:   accepted,
		Duplicates: duplicates,
		Invalid:    invalid,
	})
}

// Stats reports per-event-name counts for the dashboard, over a window
// given in hours (default 24).
func (h *EventsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if hoursStr := r.URL.Query().Get("hours"); hoursStr != "" {
		if n, err := strconv.Atoi(hoursStr); err == nil && n > 0 {
			hours = n
		}
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	counts, err := h.store.CountByName(since)
	if err != nil {
		h.logger.Error("Failed to query event counts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to query events")
		return
	}

	total, err := h.store.TotalCount()
	if err != nil {
		h.logger.Error("Failed to count events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to query events")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"total":  total,
		"hours":  hours,
		"counts": counts,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
