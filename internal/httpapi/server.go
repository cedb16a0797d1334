// Package httpapi is the thin external-collaborator-facing HTTP shim
// spec.md's Non-goals exclude from "the core" but which every component
// still needs a caller for (SPEC_FULL.md §6): submit a batch job, fetch
// a classification, fetch its audit trail, promote a golden-set entry,
// trigger a KB reload.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fiscalclass/engine/pkg/audit"
	"github.com/fiscalclass/engine/pkg/classification"
	"github.com/fiscalclass/engine/pkg/dispatcher"
	"github.com/fiscalclass/engine/pkg/goldenset"
	"github.com/fiscalclass/engine/pkg/kb"
)

// Server holds every dependency the HTTP surface needs; handlers are thin
// adapters over the packages that do the actual work.
type Server struct {
	repo       classification.Repository
	auditStore audit.Store
	goldenSet  goldenset.Store
	kbLoader   *kb.Loader
	batches    map[string]*dispatcher.Batch
	newBatch   func(req dispatcher.Request) (*dispatcher.Batch, error)
}

// NewServer wires a Server. newBatch is supplied by cmd/classifier, which
// owns constructing a workflow.Runner/FlowProvider per request.
func NewServer(repo classification.Repository, auditStore audit.Store, goldenSet goldenset.Store, kbLoader *kb.Loader, newBatch func(dispatcher.Request) (*dispatcher.Batch, error)) *Server {
	return &Server{
		repo:       repo,
		auditStore: auditStore,
		goldenSet:  goldenSet,
		kbLoader:   kbLoader,
		batches:    make(map[string]*dispatcher.Batch),
		newBatch:   newBatch,
	}
}

// Router builds the chi mux, matching the teacher's middleware stack
// (request id, recoverer, timeout) with CORS opened for the batch-submit
// JSON API.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Content-Type"},
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/batches", s.handleSubmitBatch)
		r.Get("/batches/{id}/report", s.handleGetBatchReport)
		r.Get("/classifications/{id}", s.handleGetClassification)
		r.Get("/classifications/{id}/audit", s.handleGetAudit)
		r.Post("/golden-set/promote", s.handlePromoteGolden)
		r.Post("/kb/reload", s.handleReloadKB)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitBatchRequest struct {
	TenantID        string                    `json:"tenant_id"`
	Products        []classification.Product `json:"products"`
	FlowKind        classification.FlowKind  `json:"flow_kind"`
	Limit           int                       `json:"limit"`
	ResumeFrom      string                    `json:"resume_from"`
	ForceReclassify bool                      `json:"force_reclassify"`
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var body submitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.FlowKind == "" {
		body.FlowKind = classification.FlowConfirmation
	}

	batch, err := s.newBatch(dispatcher.Request{
		TenantID:        body.TenantID,
		Products:        body.Products,
		FlowKind:        body.FlowKind,
		Limit:           body.Limit,
		ResumeFrom:      body.ResumeFrom,
		ForceReclassify: body.ForceReclassify,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	batchID := r.Header.Get("X-Request-ID")
	if batchID == "" {
		batchID = body.TenantID + "-" + time.Now().UTC().Format("20060102T150405")
	}
	s.batches[batchID] = batch

	go func() {
		ctx := context.Background()
		_, _ = batch.Run(ctx)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": batchID})
}

// handleGetBatchReport exposes the AggregationReport a submitted batch
// computed over its candidate set (spec §4.4.2, §6), so a caller can
// verify sum(members) across every Group equals the product count it
// submitted.
func (s *Server) handleGetBatchReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	batch, ok := s.batches[id]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("batch %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, batch.Report())
}

func (s *Server) handleGetClassification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.repo.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	steps, err := s.auditStore.ByClassification(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, steps)
}

func (s *Server) handlePromoteGolden(w http.ResponseWriter, r *http.Request) {
	var entry kb.GoldenSetEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	promoted, err := goldenset.Promote(r.Context(), s.goldenSet, entry)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, promoted)
}

func (s *Server) handleReloadKB(w http.ResponseWriter, r *http.Request) {
	if err := s.kbLoader.Reload(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
