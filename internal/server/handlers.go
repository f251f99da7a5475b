package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/scrypster/schoolintel/internal/intel"
	"github.com/scrypster/schoolintel/internal/school"
	"github.com/scrypster/schoolintel/pkg/types"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// SchoolView is a school with its derived sales priority.
type SchoolView struct {
	*types.School
	SalesPriority types.Priority `json:"sales_priority"`
	Address       string         `json:"address,omitempty"`
}

func viewOf(s *types.School) SchoolView {
	return SchoolView{School: s, SalesPriority: s.SalesPriority(), Address: s.Address()}
}

func viewsOf(schools []*types.School) []SchoolView {
	out := make([]SchoolView, len(schools))
	for i, s := range schools {
		out[i] = viewOf(s)
	}
	return out
}

// StartersResponse is returned by POST /api/schools/{name}/starters.
// GenerationFailed is true when the model call failed; the school data is
// still present and the client may retry with refresh=true.
type StartersResponse struct {
	School           SchoolView          `json:"school"`
	State            intel.State         `json:"state"`
	Starters         []types.StarterItem `json:"conversation_starters"`
	Summary          string              `json:"summary,omitempty"`
	Priority         types.Priority      `json:"sales_priority,omitempty"`
	Cached           bool                `json:"cached"`
	GenerationFailed bool                `json:"generation_failed"`
	Error            string              `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}

func intParam(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListSchools serves GET /api/schools. q filters by search text and
// agency=true keeps only schools reporting agency supply spend.
func (s *Server) handleListSchools(w http.ResponseWriter, r *http.Request) {
	agency := false
	if raw := r.URL.Query().Get("agency"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "agency must be a boolean")
			return
		}
		agency = v
	}

	schools, err := s.svc.Schools(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if agency {
		spenders, err := s.svc.WithAgencySpend(r.Context())
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		schools = intersect(spenders, schools)
	}
	writeJSON(w, http.StatusOK, viewsOf(schools))
}

// intersect keeps the schools in a that also appear in b, in a's order.
func intersect(a, b []*types.School) []*types.School {
	in := make(map[string]struct{}, len(b))
	for _, s := range b {
		in[s.URN] = struct{}{}
	}
	out := make([]*types.School, 0, len(a))
	for _, s := range a {
		if _, ok := in[s.URN]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (s *Server) handleGetSchool(w http.ResponseWriter, r *http.Request) {
	sch, err := s.svc.FindSchool(r.Context(), chi.URLParam(r, "name"))
	if errors.Is(err, school.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "school not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sch))
}

func (s *Server) handleStarters(w http.ResponseWriter, r *http.Request) {
	count, err := intParam(r, "count", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "count must be an integer")
		return
	}
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	got, ok := s.svc.GetIntelligence(r.Context(), chi.URLParam(r, "name"), refresh, count)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "school not found")
		return
	}

	resp := StartersResponse{
		School:           viewOf(got.School),
		State:            got.State,
		Starters:         []types.StarterItem{},
		Cached:           got.State == intel.StateCacheHit,
		GenerationFailed: got.GenerationFailed(),
	}
	if got.Result != nil {
		resp.Starters = got.Result.Items
		resp.Summary = got.Result.Summary
		resp.Priority = got.Result.Priority
	}
	if got.Cause != nil {
		resp.Error = "generation failed; retry with refresh=true"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePriority(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 10)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "limit must be a non-negative integer")
		return
	}
	schools, err := s.svc.HighPriority(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewsOf(schools))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stats(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.ClearCache(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleClearAllCache(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.ClearAllCache(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}
