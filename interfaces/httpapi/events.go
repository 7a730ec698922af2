package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/felixgeelhaar/relay-go/application/lifecycle"
	"github.com/felixgeelhaar/relay-go/domain/event"
	"github.com/felixgeelhaar/relay-go/domain/filter"
)

// createRequest is the body of POST /v1/events. UserID is a fallback
// owner for callers without an identity header; the header wins.
type createRequest struct {
	EventType      string         `json:"event_type"`
	Payload        map[string]any `json:"payload"`
	Metadata       map[string]any `json:"metadata"`
	IdempotencyKey string         `json:"idempotency_key"`
	UserID         string         `json:"user_id"`
}

// eventResponse wraps a single event.
type eventResponse struct {
	Event *event.Event `json:"event"`
}

// createResponse is the body returned by create and replay.
type createResponse struct {
	Event *event.Event `json:"event"`

	// Delivered reports whether the synchronous push succeeded.
	Delivered bool `json:"delivered"`
}

type listResponse struct {
	Events     []*event.Event `json:"events"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	owner := callerID(r)
	if owner == "" {
		owner = req.UserID
	}

	res, err := h.service.Create(r.Context(), lifecycle.CreateInput{
		Type:           req.EventType,
		Payload:        req.Payload,
		Metadata:       req.Metadata,
		IdempotencyKey: req.IdempotencyKey,
		OwnerID:        owner,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// A dedup hit returns the original event with 200 instead of 201.
	status := http.StatusCreated
	if res.AlreadyExists {
		status = http.StatusOK
	}
	writeJSON(w, status, createResponse{
		Event:     res.Event,
		Delivered: res.Event.Status == event.StatusDelivered,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ev, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventResponse{Event: ev})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit: must be a positive integer")
			return
		}
		limit = n
	}

	params := make(map[string]string, len(q))
	for key, values := range q {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	res, err := h.service.List(r.Context(), lifecycle.ListOptions{
		Status:     event.Status(q.Get("status")),
		Limit:      limit,
		Cursor:     q.Get("cursor"),
		OwnerID:    callerID(r),
		Conditions: filter.ParseParams(params),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if res.Events == nil {
		res.Events = []*event.Event{}
	}
	writeJSON(w, http.StatusOK, listResponse{Events: res.Events, NextCursor: res.NextCursor})
}

func (h *Handler) handleInbox(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit: must be a positive integer")
			return
		}
		limit = n
	}

	events, err := h.service.Inbox(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []*event.Event{}
	}
	writeJSON(w, http.StatusOK, listResponse{Events: events})
}

// updateRequest is the body of PATCH /v1/events/{id}. All fields use
// raw messages so an explicit null is distinguishable from an absent
// field: null clears metadata or the idempotency key, but a null
// payload is rejected (payload cannot be cleared).
type updateRequest struct {
	Payload        json.RawMessage `json:"payload"`
	Metadata       json.RawMessage `json:"metadata"`
	IdempotencyKey json.RawMessage `json:"idempotency_key"`
}

var jsonNull = []byte("null")

func (req *updateRequest) toInput() (lifecycle.UpdateInput, error) {
	var in lifecycle.UpdateInput

	if len(req.Payload) > 0 {
		if bytes.Equal(req.Payload, jsonNull) {
			return in, &event.ValidationError{Field: "payload", Reason: "must not be null"}
		}
		var p map[string]any
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return in, &event.ValidationError{Field: "payload", Reason: "must be an object"}
		}
		in.Payload = p
	}

	if len(req.Metadata) > 0 {
		if bytes.Equal(req.Metadata, jsonNull) {
			var cleared map[string]any
			in.Metadata = &cleared
		} else {
			var m map[string]any
			if err := json.Unmarshal(req.Metadata, &m); err != nil {
				return in, &event.ValidationError{Field: "metadata", Reason: "must be an object or null"}
			}
			in.Metadata = &m
		}
	}

	if len(req.IdempotencyKey) > 0 {
		if bytes.Equal(req.IdempotencyKey, jsonNull) {
			empty := ""
			in.IdempotencyKey = &empty
		} else {
			var k string
			if err := json.Unmarshal(req.IdempotencyKey, &k); err != nil {
				return in, &event.ValidationError{Field: "idempotency_key", Reason: "must be a string or null"}
			}
			in.IdempotencyKey = &k
		}
	}

	return in, nil
}

type updateResponse struct {
	Event *event.Event `json:"event"`

	// RedeliveryQueued reports that the update reset a delivered
	// event and queued a redelivery.
	RedeliveryQueued bool `json:"redelivery_queued"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	in, err := req.toInput()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := h.service.Update(r.Context(), r.PathValue("id"), in, callerID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updateResponse{
		Event:            res.Event,
		RedeliveryQueued: res.RedeliveryQueued,
	})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), r.PathValue("id"), callerID(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.Acknowledge(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// replayRequest is the optional body of POST /v1/events/{id}/replay.
type replayRequest struct {
	Reason string `json:"reason"`
	Target string `json:"target"`
}

func (h *Handler) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
	}

	res, err := h.service.Replay(r.Context(), r.PathValue("id"), callerID(r), req.Reason, req.Target)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createResponse{
		Event:     res.Event,
		Delivered: res.Delivered,
	})
}
