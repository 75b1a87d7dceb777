package registry

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/registry-middleware/pkg/app/errors"
	apphttp "github.com/chainsafe/registry-middleware/pkg/app/http"
	"github.com/chainsafe/registry-middleware/pkg/contracts"
)

// Handler serves read-only index lookups over HTTP.
type Handler struct {
	index  *Index
	logger *zap.Logger
}

// NewHandler creates an index lookup handler.
func NewHandler(index *Index, logger *zap.Logger) *Handler {
	return &Handler{
		index:  index,
		logger: logger,
	}
}

// HandleResponse is the JSON body describing one indexed contract.
type HandleResponse struct {
	Kind    string `json:"kind"`
	ID      string `json:"id,omitempty"`
	Address string `json:"address"`
}

// RegisterRoutes mounts the lookup endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/registry/{kind}", apphttp.HandleError(h.list))
	r.Get("/registry/{kind}/{id}", apphttp.HandleError(h.get))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) error {
	kind, err := parseKind(r)
	if err != nil {
		return err
	}

	handles := h.index.Handles(kind)
	out := make([]HandleResponse, 0, len(handles))
	for _, handle := range handles {
		out = append(out, toResponse(handle))
	}
	h.writeJSON(w, out)
	return nil
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) error {
	kind, err := parseKind(r)
	if err != nil {
		return err
	}

	id := chi.URLParam(r, "id")
	handle, ok := h.index.Get(kind, id)
	if !ok {
		return NotFoundError(kind, id)
	}
	h.writeJSON(w, toResponse(handle))
	return nil
}

func parseKind(r *http.Request) (contracts.Kind, error) {
	kind, err := contracts.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return 0, apperrors.BadRequestError(err, err.Error())
	}
	return kind, nil
}

func toResponse(handle *Handle) HandleResponse {
	return HandleResponse{
		Kind:    handle.Kind.String(),
		ID:      handle.ID,
		Address: handle.Address.Hex(),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write JSON response", zap.Error(err))
	}
}
