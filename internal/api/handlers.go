// internal/api/handlers.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"arbor/internal/branch"
	"arbor/internal/errors"
	"arbor/internal/logging"
	"arbor/internal/repository"
	"arbor/internal/safe"
	"arbor/internal/validation"

	"go.uber.org/zap"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeMsgpack = "application/x-msgpack"
)

// Info describes a served repository.
type Info struct {
	Location      string `json:"location"`
	Format        string `json:"format"`
	RichRoot      bool   `json:"rich_root"`
	TreeReference bool   `json:"tree_reference"`
	Branch        string `json:"branch"`
	Tip           string `json:"tip"`
}

// ParentsRequest asks for the parents of revisions.
type ParentsRequest struct {
	RevisionIDs []string `json:"revision_ids"`
}

func (r *ParentsRequest) Validate() error {
	if len(r.RevisionIDs) > MaxRecordKeys {
		return errors.ValidationError(fmt.Sprintf("at most %d revision ids per request", MaxRecordKeys),
			map[string]int{"revision_ids": len(r.RevisionIDs)})
	}
	return nil
}

type ParentsResponse struct {
	Parents map[string][]string `json:"parents"`
}

type RevisionList struct {
	RevisionIDs []string `json:"revision_ids"`
}

// Handler serves one repository read-only. Requests only read committed
// data, so they run concurrently without taking the repository lock.
type Handler struct {
	repo   *repository.Repository
	branch *branch.Branch
	codec  *safe.Codec
	logger *logging.Logger
}

func NewHandler(repo *repository.Repository, br *branch.Branch, logger *logging.Logger) (*Handler, error) {
	codec, err := safe.NewCodec(safe.DefaultCompressionOptions())
	if err != nil {
		return nil, fmt.Errorf("creating codec: %w", err)
	}
	if logger == nil {
		logger = &logging.Logger{Logger: zap.NewNop()}
	}
	return &Handler{repo: repo, branch: br, codec: codec, logger: logger}, nil
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", HealthCheck)
	mux.HandleFunc("GET /api/info", h.Info)
	mux.HandleFunc("GET /api/revisions", h.ListRevisions)
	mux.HandleFunc("GET /api/revisions/{id}", h.GetRevision)
	mux.HandleFunc("GET /api/inventories/{id}", h.GetInventory)
	mux.HandleFunc("POST /api/graph/parents", h.Parents)
	mux.HandleFunc("POST /api/records/{kind}", h.Records)
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Write([]byte(`{"status":"healthy"}`))
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithRequestID(r.Context()).Error("encoding response", zap.Error(err))
	}
}

// writeError sends err as a typed JSON error with its HTTP status.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.StatusCode(err)
	body := &errors.Error{Type: errors.TypeOf(err), Message: err.Error(), Code: status}
	if body.Type == "" {
		body.Type = errors.ErrorTypeInternal
	}
	if status >= http.StatusInternalServerError {
		h.logger.WithRequestID(r.Context()).Error("request failed", zap.Error(err))
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	info := Info{
		Location:      h.repo.Location(),
		Format:        string(h.repo.Format()),
		RichRoot:      h.repo.SupportsRichRoot(),
		TreeReference: h.repo.SupportsTreeReference(),
	}
	if h.branch != nil {
		tip, err := h.branch.Tip()
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		info.Branch = h.branch.Name()
		info.Tip = tip
	}
	h.writeJSON(w, r, info)
}

func (h *Handler) ListRevisions(w http.ResponseWriter, r *http.Request) {
	ids, err := h.repo.AllRevisionIDs()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	h.writeJSON(w, r, RevisionList{RevisionIDs: ids})
}

func (h *Handler) GetRevision(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, r, errors.ValidationError("missing revision id", nil))
		return
	}
	rev, err := h.repo.GetRevision(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, rev)
}

// GetInventory sends the inventory in its stored msgpack form.
func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	inv, err := h.repo.GetInventory(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	data, err := inv.Serialize()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeMsgpack)
	w.Write(data)
}

func (h *Handler) Parents(w http.ResponseWriter, r *http.Request) {
	var req ParentsRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	parents, err := h.repo.ParentMap(req.RevisionIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, ParentsResponse{Parents: parents})
}
