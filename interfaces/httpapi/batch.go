package httpapi

import (
	"net/http"

	"github.com/felixgeelhaar/relay-go/application/batch"
	"github.com/felixgeelhaar/relay-go/application/lifecycle"
)

// batchCreateRequest is the body of POST /v1/events/batch.
type batchCreateRequest struct {
	Events []createRequest `json:"events"`
}

// batchTargetRequest carries the target selector shared by the batch
// update, delete and replay endpoints.
type batchTargetRequest struct {
	EventIDs []string          `json:"event_ids"`
	Filters  map[string]string `json:"filters"`
}

func (req batchTargetRequest) targets() batch.Targets {
	return batch.Targets{IDs: req.EventIDs, Filters: req.Filters}
}

type batchUpdateRequest struct {
	batchTargetRequest
	Update updateRequest `json:"update"`
}

type batchReplayRequest struct {
	batchTargetRequest
	Reason string `json:"reason"`
}

func (h *Handler) handleBatchCreate(w http.ResponseWriter, r *http.Request) {
	var req batchCreateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	owner := callerID(r)
	items := make([]lifecycle.CreateInput, len(req.Events))
	for i, e := range req.Events {
		itemOwner := owner
		if itemOwner == "" {
			itemOwner = e.UserID
		}
		items[i] = lifecycle.CreateInput{
			Type:           e.EventType,
			Payload:        e.Payload,
			Metadata:       e.Metadata,
			IdempotencyKey: e.IdempotencyKey,
			OwnerID:        itemOwner,
		}
	}

	res, err := h.batch.Create(r.Context(), items)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	var req batchUpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	in, err := req.Update.toInput()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := h.batch.Update(r.Context(), req.targets(), in, callerID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	var req batchTargetRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	res, err := h.batch.Delete(r.Context(), req.targets(), callerID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleBatchReplay(w http.ResponseWriter, r *http.Request) {
	var req batchReplayRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	res, err := h.batch.Replay(r.Context(), req.targets(), req.Reason, callerID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
