package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/outlier/internal/api/request"
	"github.com/mcoot/outlier/internal/api/response"
	"github.com/mcoot/outlier/internal/services/category"
)

// CategoryHandler handles category endpoints
type CategoryHandler struct {
	provider *category.Provider
}

// NewCategoryHandler creates a new category handler
func NewCategoryHandler(provider *category.Provider) *CategoryHandler {
	return &CategoryHandler{provider: provider}
}

// List handles GET /api/v1/categories
func (h *CategoryHandler) List(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, response.CategoryList{Categories: h.provider.Names()})
}

// Get handles GET /api/v1/categories/{name}
func (h *CategoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.provider.Lookup(mux.Vars(r)["name"])
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.CategoryFromModel(c))
}

// Generate handles POST /api/v1/categories/generate
func (h *CategoryHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req request.GenerateCategoryRequest
	if err := decodeJSON(r, &req, true); err != nil {
		WriteError(w, err)
		return
	}

	c, err := h.provider.PickCategory(r.Context(), req.Prompt)
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.CategoryFromModel(c))
}
