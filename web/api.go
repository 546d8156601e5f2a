package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/gosom/gmaps-extractor/exporter"
	"github.com/gosom/gmaps-extractor/models"
	"github.com/gosom/gmaps-extractor/web/auth"
)

const maxRequestBody = 1 << 20

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r.Context())

	var params models.JobParams

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&params); err != nil {
		renderJSON(w, http.StatusUnprocessableEntity, models.APIError{Code: http.StatusUnprocessableEntity, Message: err.Error()})
		return
	}

	job, err := s.svc.Submit(r.Context(), userID, params)
	if err != nil {
		s.renderError(w, err)
		return
	}

	renderJSON(w, http.StatusCreated, models.SubmitJobResponse{ID: job.ID, Status: job.Status})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r.Context())

	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l < 0 {
			renderJSON(w, http.StatusBadRequest, models.APIError{Code: http.StatusBadRequest, Message: "invalid limit"})
			return
		}

		limit = l
	}

	jobs, err := s.svc.History(r.Context(), userID, models.Status(q.Get("status")), limit)
	if err != nil {
		s.renderError(w, err)
		return
	}

	summaries := make([]models.JobSummary, 0, len(jobs))
	for i := range jobs {
		summaries = append(summaries, jobs[i].Summary())
	}

	renderJSON(w, http.StatusOK, summaries)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r.Context())

	job, err := s.svc.Get(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		s.renderError(w, err)
		return
	}

	renderJSON(w, http.StatusOK, job)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r.Context())

	if err := s.svc.Delete(r.Context(), mux.Vars(r)["id"], userID); err != nil {
		s.renderError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r.Context())

	job, err := s.svc.Cancel(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		s.renderError(w, err)
		return
	}

	renderJSON(w, http.StatusOK, job.Summary())
}

func (s *Server) exportJob(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.GetUserID(r.Context())
	jobID := mux.Vars(r)["id"]

	format, err := exporter.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.renderError(w, err)
		return
	}

	spec := exporter.FieldSpec{Format: format, Columns: splitColumns(r.URL.Query().Get("columns"))}

	out, err := s.svc.Export(r.Context(), jobID, userID, spec)
	if err != nil {
		s.renderError(w, err)
		return
	}

	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", jobID+"."+out.Extension))
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Data)))
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(out.Data); err != nil {
		s.log.Debug("export write failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func splitColumns(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var cols []string

	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}

	return cols
}

// renderError maps service errors to status codes. Unexpected errors are
// logged and hidden from the client.
func (s *Server) renderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrBadRequest):
		renderJSON(w, http.StatusBadRequest, models.APIError{Code: http.StatusBadRequest, Message: err.Error()})
	case errors.Is(err, models.ErrNotFound):
		renderJSON(w, http.StatusNotFound, models.APIError{Code: http.StatusNotFound, Message: "job not found"})
	default:
		s.log.Error("request failed", zap.Error(err))
		renderJSON(w, http.StatusInternalServerError, models.APIError{Code: http.StatusInternalServerError, Message: http.StatusText(http.StatusInternalServerError)})
	}
}

func renderJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}
