package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/argos/pkg/domain/interfaces"
	"github.com/secmon-lab/argos/pkg/domain/model"
	"github.com/secmon-lab/argos/pkg/domain/types"
	"github.com/secmon-lab/argos/pkg/usecase"
	"github.com/secmon-lab/argos/pkg/utils/errutil"
)

func healthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "argos",
	})
}

type ingestRequest struct {
	URL        string `json:"url"`
	TabRef     string `json:"tabRef"`
	Source     string `json:"source"`
	ObservedAt string `json:"observedAt"` // RFC 3339, optional
}

type ingestResponse struct {
	Accepted    bool   `json:"accepted"`
	Status      string `json:"status"` // Queued, Throttled or Rejected
	Reason      string `json:"reason,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Revision    string `json:"revision,omitempty"`
	Coalesced   bool   `json:"coalesced,omitempty"`
}

// wireStatus maps the internal ack to the response status enum. A
// coalesced occurrence reports Queued; the coalesced flag carries the
// detail.
func wireStatus(ack types.AckStatus) string {
	if ack == types.AckCoalesced {
		return types.AckQueued.String()
	}
	return ack.String()
}

// ingestHandler accepts one page-visit event. Malformed events get a 400
// with a Rejected ack; anything else means the event is stored durably.
func ingestHandler(uc *usecase.IngestUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, r, http.StatusBadRequest, ingestResponse{
				Status: types.AckRejected.String(),
				Reason: "invalid JSON body",
			})
			return
		}

		input := usecase.IngestInput{
			URL:    req.URL,
			TabRef: req.TabRef,
			Source: req.Source,
		}
		if req.ObservedAt != "" {
			observedAt, err := time.Parse(time.RFC3339, req.ObservedAt)
			if err != nil {
				respondJSON(w, r, http.StatusBadRequest, ingestResponse{
					Status: types.AckRejected.String(),
					Reason: "observedAt must be RFC 3339",
				})
				return
			}
			input.ObservedAt = observedAt
		}

		result, err := uc.Submit(r.Context(), input)
		if err != nil {
			errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "failed to ingest event"), http.StatusInternalServerError)
			return
		}

		resp := ingestResponse{
			Accepted:    result.Ack != types.AckRejected,
			Status:      wireStatus(result.Ack),
			Reason:      result.Reason,
			Fingerprint: result.Fingerprint.String(),
			Revision:    result.Revision.String(),
			Coalesced:   result.Ack == types.AckCoalesced,
		}

		switch result.Ack {
		case types.AckRejected:
			respondJSON(w, r, http.StatusBadRequest, resp)
		case types.AckQueued, types.AckThrottled:
			respondJSON(w, r, http.StatusAccepted, resp)
		default:
			respondJSON(w, r, http.StatusOK, resp)
		}
	}
}

// cancelHandler requests cancellation of the in-flight revision for a
// fingerprint.
func cancelHandler(uc *usecase.IngestUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fp := model.Fingerprint(chi.URLParam(r, "fingerprint"))

		visit, err := uc.Cancel(r.Context(), fp)
		if err != nil {
			switch {
			case errors.Is(err, interfaces.ErrNotFound):
				errutil.HandleHTTP(r.Context(), w, err, http.StatusNotFound)
			case errors.Is(err, interfaces.ErrConflict):
				errutil.HandleHTTP(r.Context(), w, err, http.StatusConflict)
			default:
				errutil.HandleHTTP(r.Context(), w, err, http.StatusInternalServerError)
			}
			return
		}

		respondJSON(w, r, http.StatusAccepted, map[string]string{
			"fingerprint": visit.Fingerprint.String(),
			"revision":    visit.Revision.String(),
			"status":      visit.Status.String(),
		})
	}
}
