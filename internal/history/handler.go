package history

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/meshfield/meshfield/internal/metrics"
	"github.com/meshfield/meshfield/pkg/types"
)

// RunResponse is the JSON shape of one run.
type RunResponse struct {
	ID       int64                     `json:"id"`
	Grid     types.Grid                `json:"grid"`
	Strategy string                    `json:"strategy"`
	Collect  string                    `json:"collect"`
	Metrics  metrics.Output            `json:"metrics"`
	Phases   metrics.Phases            `json:"phases"`
	Ranks    []types.PerformanceSample `json:"ranks"`
	Finished string                    `json:"finished"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the run history under /api/v1/runs.
type Handler struct {
	store *Store
	mux   *http.ServeMux
}

// NewHandler returns the history API backed by st.
func NewHandler(st *Store) http.Handler {
	h := &Handler{store: st, mux: http.NewServeMux()}
	h.mux.HandleFunc("/api/v1/runs", h.listRuns)
	h.mux.HandleFunc("/api/v1/runs/", h.getRun) // subtree: latest or {id}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// listRuns returns GET /api/v1/runs.
func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	runs := h.store.List()
	out := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	jsonResp(w, http.StatusOK, out)
}

// getRun returns GET /api/v1/runs/latest and GET /api/v1/runs/{id}.
func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	if key == "" {
		h.listRuns(w, r)
		return
	}

	var (
		run *Run
		ok  bool
	)
	if key == "latest" {
		run, ok = h.store.Latest()
	} else {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "run id must be an integer or \"latest\"")
			return
		}
		run, ok = h.store.Get(id)
	}
	if !ok {
		jsonErr(w, http.StatusNotFound, "run not found")
		return
	}
	jsonResp(w, http.StatusOK, toRunResponse(run))
}

func toRunResponse(r *Run) RunResponse {
	return RunResponse{
		ID:       r.ID,
		Grid:     r.Grid,
		Strategy: r.Strategy,
		Collect:  r.Collect,
		Metrics:  r.Summary.Output,
		Phases:   r.Summary.Phases,
		Ranks:    r.Summary.Samples,
		Finished: r.Finished.UTC().Format(time.RFC3339Nano),
	}
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
