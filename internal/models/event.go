package models

import (
	"encoding/json"
	"errors"
	"math"
)

// Capture-time bounds. Oversized names drop the whole event, oversized
// string values are truncated. The collector applies the same limits on
// ingest so a misbehaving sender cannot bloat storage.
const (
	MaxNameLen  = 100
	MaxValueLen = 200
	MaxDataKeys = 32
)

// Event represents a single telemetry event matching the collector's row layout
type Event struct {
	ID         string         `json:"id,omitempty"`
	Name       string         `json:"name"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  int64          `json:"timestamp"` // Unix timestamp in milliseconds
	Path       string         `json:"path,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Referrer   string         `json:"referrer,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	ViewportW  int            `json:"viewport_w,omitempty"`
	ViewportH  int            `json:"viewport_h,omitempty"`
	Connection string         `json:"connection,omitempty"`
}

// CompactEvent is the abbreviated wire form used when payload compression is
// enabled. Field meanings are identical to Event; the collector expands it
// back, so the shortening is lossless.
type CompactEvent struct {
	ID  string         `json:"id,omitempty"`
	N   string         `json:"n"`
	D   map[string]any `json:"d,omitempty"`
	T   int64          `json:"t"`
	P   string         `json:"p,omitempty"`
	U   string         `json:"u,omitempty"`
	SID string         `json:"sid,omitempty"`
	R   string         `json:"r,omitempty"`
	UA  string         `json:"ua,omitempty"`
	VW  int            `json:"vw,omitempty"`
	VH  int            `json:"vh,omitempty"`
	C   string         `json:"c,omitempty"`
}

// BatchRequest represents a batch of events to send to the collector.
// Events holds either full or compact event objects depending on the
// sender's compression setting.
type BatchRequest struct {
	Events []any `json:"events"`
	SentAt int64 `json:"sent_at,omitempty"` // Unix timestamp in milliseconds
}

// Compact returns the abbreviated wire form of the event.
func (e Event) Compact() CompactEvent {
	return CompactEvent{
		ID:  e.ID,
		N:   e.Name,
		D:   e.Data,
		T:   e.Timestamp,
		P:   e.Path,
		U:   e.UserID,
		SID: e.SessionID,
		R:   e.Referrer,
		UA:  e.UserAgent,
		VW:  e.ViewportW,
		VH:  e.ViewportH,
		C:   e.Connection,
	}
}

// Expand restores the full field names from the abbreviated wire form.
func (c CompactEvent) Expand() Event {
	return Event{
		ID:         c.ID,
		Name:       c.N,
		Data:       c.D,
		Timestamp:  c.T,
		Path:       c.P,
		UserID:     c.U,
		SessionID:  c.SID,
		Referrer:   c.R,
		UserAgent:  c.UA,
		ViewportW:  c.VW,
		ViewportH:  c.VH,
		Connection: c.C,
	}
}

var ErrInvalidEvent = errors.New("invalid event")

// DecodeWireEvent decodes a single event object in either wire shape.
// The compact form is tried first; an object without an "n" key falls
// back to the full field names.
func DecodeWireEvent(raw []byte) (Event, error) {
	var compact CompactEvent
	if err := json.Unmarshal(raw, &compact); err == nil && compact.N != "" {
		return compact.Expand(), nil
	}

	var full Event
	if err := json.Unmarshal(raw, &full); err != nil {
		return Event{}, err
	}
	if full.Name == "" {
		return Event{}, ErrInvalidEvent
	}
	return full, nil
}

// Validate checks the ingest bounds. Invalid events are skipped
// individually; one bad event never rejects its whole batch.
func (e Event) Validate() error {
	if e.Name == "" || len(e.Name) > MaxNameLen {
		return ErrInvalidEvent
	}
	if e.Timestamp <= 0 {
		return ErrInvalidEvent
	}
	return nil
}

// SanitizeData returns a copy of data with only primitive values kept:
// strings truncated to MaxValueLen, finite numbers and booleans. Everything
// else is dropped, as is anything beyond MaxDataKeys entries.
func SanitizeData(data map[string]any) map[string]any {
	if len(data) == 0 {
		return nil
	}
	clean := make(map[string]any, len(data))
	for k, v := range data {
		if len(clean) >= MaxDataKeys {
			break
		}
		switch val := v.(type) {
		case string:
			if len(val) > MaxValueLen {
				val = val[:MaxValueLen]
			}
			clean[k] = val
		case float64:
			if !math.IsNaN(val) && !math.IsInf(val, 0) {
				clean[k] = val
			}
		case float32:
			f := float64(val)
			if !math.IsNaN(f) && !math.IsInf(f, 0) {
				clean[k] = f
			}
		case int:
			clean[k] = val
		case int32:
			clean[k] = val
		case int64:
			clean[k] = val
		case bool:
			clean[k] = val
		}
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}
