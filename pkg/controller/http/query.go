package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/argos/pkg/domain/interfaces"
	"github.com/secmon-lab/argos/pkg/domain/model"
	"github.com/secmon-lab/argos/pkg/usecase"
	"github.com/secmon-lab/argos/pkg/utils/errutil"
)

type searchHit struct {
	Fingerprint string   `json:"fingerprint"`
	Revision    string   `json:"revision"`
	URL         string   `json:"url"`
	Title       string   `json:"title,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Concepts    []string `json:"concepts,omitempty"`
}

func toSearchHits(results []*usecase.SearchResult) []searchHit {
	hits := make([]searchHit, len(results))
	for i, r := range results {
		hits[i] = searchHit{
			Fingerprint: r.Fingerprint.String(),
			Revision:    r.Revision.String(),
			URL:         r.URL,
			Title:       r.Title,
			Summary:     r.Summary,
			Concepts:    r.Concepts,
		}
	}
	return hits
}

func queryLimit(r *http.Request) int {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		return v
	}
	return 10
}

// searchHandler runs a text similarity search: GET /api/search?q=...
func searchHandler(uc *usecase.QueryUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			errutil.HandleHTTP(r.Context(), w, goerr.New("query parameter 'q' is required"), http.StatusBadRequest)
			return
		}

		results, err := uc.Search(r.Context(), query, queryLimit(r))
		if err != nil {
			errutil.HandleHTTP(r.Context(), w, err, http.StatusInternalServerError)
			return
		}
		respondJSON(w, r, http.StatusOK, map[string]any{"hits": toSearchHits(results)})
	}
}

// searchByVectorHandler runs a raw vector search: POST /api/search with
// {"vector": [...], "limit": n}.
func searchByVectorHandler(uc *usecase.QueryUseCase) http.HandlerFunc {
	type request struct {
		Vector []float32 `json:"vector"`
		Limit  int       `json:"limit"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "invalid JSON body"), http.StatusBadRequest)
			return
		}

		results, err := uc.SearchByVector(r.Context(), req.Vector, req.Limit)
		if err != nil {
			errutil.HandleHTTP(r.Context(), w, err, http.StatusBadRequest)
			return
		}
		respondJSON(w, r, http.StatusOK, map[string]any{"hits": toSearchHits(results)})
	}
}

// graphHandler walks the concept graph: GET /api/graph/{nodeID}?depth=n
func graphHandler(uc *usecase.QueryUseCase) http.HandlerFunc {
	type node struct {
		ID         string `json:"id"`
		Label      string `json:"label,omitempty"`
		VisitCount int    `json:"visitCount,omitempty"`
	}
	type edge struct {
		Kind   string  `json:"kind"`
		Source string  `json:"source"`
		Target string  `json:"target"`
		Weight float64 `json:"weight"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		depth := 1
		if v, err := strconv.Atoi(r.URL.Query().Get("depth")); err == nil && v > 0 {
			depth = v
		}

		view, err := uc.Traverse(r.Context(), model.NodeID(chi.URLParam(r, "nodeID")), depth)
		if err != nil {
			errutil.HandleHTTP(r.Context(), w, err, http.StatusBadRequest)
			return
		}

		nodes := make([]node, len(view.Nodes))
		for i, n := range view.Nodes {
			nodes[i] = node{ID: n.ID.String(), Label: n.Label, VisitCount: n.VisitCount}
		}
		edges := make([]edge, len(view.Edges))
		for i, e := range view.Edges {
			edges[i] = edge{
				Kind:   e.Kind.String(),
				Source: e.Source.String(),
				Target: e.Target.String(),
				Weight: e.Weight,
			}
		}
		respondJSON(w, r, http.StatusOK, map[string]any{"nodes": nodes, "edges": edges})
	}
}

// visitHandler returns the processing state of one fingerprint:
// GET /api/visits/{fingerprint}
func visitHandler(uc *usecase.QueryUseCase) http.HandlerFunc {
	type event struct {
		ID         string `json:"id"`
		URL        string `json:"url"`
		Source     string `json:"source"`
		ObservedAt string `json:"observedAt"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		fp := model.Fingerprint(chi.URLParam(r, "fingerprint"))

		detail, err := uc.GetVisit(r.Context(), fp)
		if err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				errutil.HandleHTTP(r.Context(), w, err, http.StatusNotFound)
			} else {
				errutil.HandleHTTP(r.Context(), w, err, http.StatusInternalServerError)
			}
			return
		}

		events := make([]event, len(detail.Events))
		for i, e := range detail.Events {
			events[i] = event{
				ID:         string(e.ID),
				URL:        e.URL,
				Source:     e.Source.String(),
				ObservedAt: e.ObservedAt.Format(time.RFC3339),
			}
		}

		resp := map[string]any{
			"fingerprint": detail.Visit.Fingerprint.String(),
			"revision":    detail.Visit.Revision.String(),
			"url":         detail.Visit.URL,
			"status":      detail.Visit.Status.String(),
			"occurrences": len(detail.Visit.Occurrences),
			"events":      events,
		}
		if detail.Visit.FailReason != "" {
			resp["failedStage"] = detail.Visit.FailedStage.String()
			resp["failReason"] = detail.Visit.FailReason
		}
		if detail.Summary != nil {
			resp["summary"] = detail.Summary.Text
			resp["concepts"] = detail.Summary.Concepts
		}
		respondJSON(w, r, http.StatusOK, resp)
	}
}

// statsHandler returns pipeline counters: GET /api/stats
func statsHandler(uc *usecase.QueryUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := uc.GetStats(r.Context())
		if err != nil {
			errutil.HandleHTTP(r.Context(), w, err, http.StatusInternalServerError)
			return
		}

		byStatus := make(map[string]int, len(stats.VisitsByStatus))
		for status, count := range stats.VisitsByStatus {
			byStatus[status.String()] = count
		}
		respondJSON(w, r, http.StatusOK, map[string]any{
			"visits": byStatus,
			"queue": map[string]int{
				"len": stats.QueueLen,
				"cap": stats.QueueCap,
			},
		})
	}
}
