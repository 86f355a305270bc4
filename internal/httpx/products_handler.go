package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-commerce-saga.git/internal/catalog"
)

type ProductsHandler struct {
	Catalog *catalog.Repo
}

func (h *ProductsHandler) Register(r *chi.Mux) {
	r.Get("/products", h.list)
}

func (h *ProductsHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Catalog.List(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ps)
}
