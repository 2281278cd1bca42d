package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/palskill/internal/callexpr"
	"github.com/nidhogg/palskill/internal/registry"
	"github.com/nidhogg/palskill/internal/sandbox"
	"github.com/nidhogg/palskill/internal/skill"
)

// Handler exposes the skill registry over HTTP.
type Handler struct {
	reg    *registry.Registry
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(reg *registry.Registry, logger *zap.Logger) *Handler {
	return &Handler{reg: reg, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/skills", h.listSkills)
		r.Post("/skills", h.registerSkill)
		r.Get("/skills/{name}", h.getSkill)
		r.Delete("/skills/{name}", h.deleteSkill)
		r.Post("/skills/retrieve", h.retrieve)
		r.Post("/skills/similar", h.similar)

		r.Post("/parse", h.parse)
		r.Post("/execute", h.execute)
		r.Post("/library/save", h.saveLibrary)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "skills": len(h.reg.Names())})
}

// SkillSummary is one entry of the skill listing.
type SkillSummary struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
	Origin    string `json:"origin"`
}

func (h *Handler) listSkills(w http.ResponseWriter, r *http.Request) {
	names := h.reg.Names()
	out := make([]SkillSummary, 0, len(names))
	for _, n := range names {
		s, err := h.reg.Get(n)
		if err != nil {
			continue
		}
		out = append(out, SkillSummary{Name: s.Name, Signature: s.Signature(), Origin: string(s.Origin)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getSkill(w http.ResponseWriter, r *http.Request) {
	c, err := h.reg.Contract(chi.URLParam(r, "name"), true)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type registerRequest struct {
	Code      string `json:"code"`
	Overwrite bool   `json:"overwrite"`
}

type registerResponse struct {
	registry.Result
	Error string `json:"error,omitempty"`
}

func (h *Handler) registerSkill(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.reg.Register(r.Context(), req.Code, req.Overwrite)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, sandbox.ErrCompile) || errors.Is(err, sandbox.ErrContract) {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, registerResponse{Result: res, Error: err.Error()})
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, registerResponse{Result: res})
}

func (h *Handler) deleteSkill(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.reg.Delete(r.Context(), name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
}

type retrieveRequest struct {
	Query   string `json:"query"`
	TopK    int    `json:"top_k"`
	Context string `json:"context"`
}

type retrieveResponse struct {
	Skills    []string         `json:"skills"`
	Contracts []skill.Contract `json:"contracts"`
	Prompt    string           `json:"prompt"`
}

func (h *Handler) retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	names, err := h.reg.Retrieve(r.Context(), req.Query, req.TopK, req.Context)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	contracts := h.reg.Contracts(names)
	writeJSON(w, http.StatusOK, retrieveResponse{
		Skills:    names,
		Contracts: contracts,
		Prompt:    skill.FormatContracts(contracts),
	})
}

func (h *Handler) similar(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	scored, err := h.reg.Similar(r.Context(), req.Query, req.TopK)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, scored)
}

type parseRequest struct {
	Expression string `json:"expression"`
}

func (h *Handler) parse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	calls, err := callexpr.Parse(req.Expression)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

type executeRequest struct {
	Actions []string `json:"actions"`
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, h.reg.Execute(r.Context(), req.Actions))
}

func (h *Handler) saveLibrary(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Save(r.Context()); err != nil {
		h.logger.Error("save skill library", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "saved", "skills": len(h.reg.Names())})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
