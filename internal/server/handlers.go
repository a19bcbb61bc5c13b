package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shpitdev/autoprospect/internal/bulk"
	"github.com/shpitdev/autoprospect/internal/export"
	"github.com/shpitdev/autoprospect/internal/lead"
	"github.com/shpitdev/autoprospect/internal/lifecycle"
	"github.com/shpitdev/autoprospect/internal/search"
	"github.com/shpitdev/autoprospect/internal/version"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Current,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.repo.Counts())
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("status"))
	if raw == "" {
		writeJSON(w, http.StatusOK, map[string]any{"leads": s.repo.List()})
		return
	}
	st, err := lead.ParseStatus(raw)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	leads := s.repo.ListByStatus(st)
	if leads == nil {
		leads = []lead.Lead{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": leads})
}

func (s *Server) handleGetLead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	l, ok := s.repo.Get(id)
	if !ok {
		s.writeError(w, r, fmt.Errorf("%w: %s", lead.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleDeleteLead(w http.ResponseWriter, r *http.Request) {
	if err := s.leads.Delete(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	leads, err := s.search.Search(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"leads": leads})
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	l, err := s.leads.GenerateDraft(r.Context(), chi.URLParam(r, "id"))
	s.writeLead(w, r, l, err)
}

type regenerateRequest struct {
	Instructions string `json:"instructions"`
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if err := decode(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.leads.Regenerate(r.Context(), chi.URLParam(r, "id"), req.Instructions)
	s.writeLead(w, r, l, err)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	l, err := s.leads.Approve(chi.URLParam(r, "id"))
	s.writeLead(w, r, l, err)
}

func (s *Server) handleSaveEdit(w http.ResponseWriter, r *http.Request) {
	var edit lifecycle.Edit
	if err := decode(r, &edit, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if edit.Variant != "" {
		v, err := lead.ParseVariant(string(edit.Variant))
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		edit.Variant = v
	}
	l, err := s.leads.SaveEdit(chi.URLParam(r, "id"), edit)
	s.writeLead(w, r, l, err)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	l, err := s.leads.Dispatch(r.Context(), chi.URLParam(r, "id"))
	s.writeLead(w, r, l, err)
}

func (s *Server) writeLead(w http.ResponseWriter, r *http.Request, l lead.Lead, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleBulkStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bulk.Status())
}

type bulkStartResponse struct {
	Action   bulk.Action `json:"action"`
	Eligible int         `json:"eligible"`
	State    bulk.State  `json:"state"`
}

func (s *Server) handleBulkStart(w http.ResponseWriter, r *http.Request) {
	action, err := bulk.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	n, err := s.bulk.Start(r.Context(), action)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if n == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, bulkStartResponse{Action: action, Eligible: n, State: s.bulk.Status()})
}

func (s *Server) handleBulkCancel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": s.bulk.Cancel()})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="autoprospect_export_%d.csv"`, s.now().UnixMilli()))
	if err := export.WriteCSV(w, s.repo.List()); err != nil {
		s.logger.Error("export failed", requestFields(r, http.StatusInternalServerError, err.Error())...)
	}
}
