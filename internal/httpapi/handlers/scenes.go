package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"vidrender/internal/httpkit"
	"vidrender/internal/models"
	"vidrender/internal/pkg/errors"
	"vidrender/internal/repositories"
	"vidrender/internal/scene"
	"vidrender/internal/worker/util"
)

type CreateSceneRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Definition  json.RawMessage `json:"definition"`
}

// PostScene stores a validated scene under a unique name.
func (h *Handler) PostScene(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateSceneRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, errors.WrapWithCode(err, errors.CodeValidation, "scenes.create", "invalid json body"))
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		h.fail(w, r, errors.ValidationField("name", "name is required"))
		return
	}
	if len(req.Definition) == 0 {
		h.fail(w, r, errors.ValidationField("definition", "definition is required"))
		return
	}
	if _, err := scene.Parse(req.Definition); err != nil {
		h.fail(w, r, err)
		return
	}

	s := &models.SavedScene{
		ID:          util.NewID("scn"),
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
		Definition:  req.Definition,
	}
	if err := h.scenes.Create(ctx, s); err != nil {
		if errors.Is(err, repositories.ErrSceneNameExists) {
			h.fail(w, r, errors.New(errors.CodeConflict, "scene name already exists").WithField("name", req.Name))
			return
		}
		h.fail(w, r, errors.Wrap(err, "scenes.create", "db insert failed"))
		return
	}

	httpkit.WriteJSON(w, http.StatusCreated, map[string]any{"scene": s})
}

func (h *Handler) ListScenes(w http.ResponseWriter, r *http.Request) {
	scenes, err := h.scenes.List(r.Context())
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "scenes.list", "db query failed"))
		return
	}
	if scenes == nil {
		scenes = []models.SavedScene{}
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"scenes": scenes})
}

func (h *Handler) GetScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sceneId")
	s, err := h.scenes.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrSceneNotFound) {
			h.fail(w, r, errors.NotFound("scene", id))
			return
		}
		h.fail(w, r, errors.Wrap(err, "scenes.get", "db query failed"))
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"scene": s})
}

// DeleteScene soft-deletes; jobs keep their own copy of the definition.
func (h *Handler) DeleteScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sceneId")
	if err := h.scenes.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrSceneNotFound) {
			h.fail(w, r, errors.NotFound("scene", id))
			return
		}
		h.fail(w, r, errors.Wrap(err, "scenes.delete", "db update failed"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
