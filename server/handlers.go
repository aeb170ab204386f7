package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/outfield/enrichd/errors"
	"github.com/outfield/enrichd/job"
)

const defaultListLimit = 50

// submitJobRequest is the POST /api/jobs payload
type submitJobRequest struct {
	OwnerID         string         `json:"owner_id"`
	Tier            string         `json:"tier"`
	Kind            string         `json:"kind,omitempty"` // defaults to company.enrich
	Items           []job.WorkItem `json:"items"`
	Params          job.Params     `json:"params"`
	Priority        int            `json:"priority,omitempty"`
	PremiumPriority bool           `json:"premium_priority,omitempty"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalidRequest, "malformed JSON body"))
		return
	}

	if req.Kind == "" {
		req.Kind = "company.enrich"
	}

	j, err := s.submitter.Submit(r.Context(), job.SubmitRequest{
		OwnerID:         req.OwnerID,
		Tier:            req.Tier,
		Kind:            req.Kind,
		Items:           req.Items,
		Params:          req.Params,
		Priority:        req.Priority,
		PremiumPriority: req.PremiumPriority,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, j.Snapshot())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	j, err := s.queue.GetJob(jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, j.Snapshot())
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, errors.Wrapf(errors.ErrInvalidRequest, "invalid limit %q", v))
			return
		}
		limit = n
	}

	var jobs []*job.Job
	var err error

	if owner := r.URL.Query().Get("owner_id"); owner != "" {
		jobs, err = s.queue.Store().ListJobsByOwner(owner, limit)
	} else {
		var status *job.Status
		if v := r.URL.Query().Get("status"); v != "" {
			if !job.IsValidStatus(v) {
				writeError(w, errors.Wrapf(errors.ErrInvalidRequest, "invalid status %q", v))
				return
			}
			st := job.Status(v)
			status = &st
		}
		jobs, err = s.queue.Store().ListJobs(status, limit)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	snapshots := make([]job.Progress, 0, len(jobs))
	for _, j := range jobs {
		snapshots = append(snapshots, j.Snapshot())
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": snapshots})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Store().GetStats()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
