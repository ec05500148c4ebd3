package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/devserver/repository"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
)

type ProductHandler struct {
	products repository.ProductRepository
	timeout  time.Duration
}

func NewProductHandler(products repository.ProductRepository, timeout time.Duration) *ProductHandler {
	return &ProductHandler{
		products: products,
		timeout:  timeout,
	}
}

type UpsertProductRequestDTO struct {
	Name      string `json:"name" validate:"required,max=256"`
	Price     int64  `json:"price" validate:"gte=0"`
	Available bool   `json:"available"`
}

func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	products, err := h.products.ListProducts(ctx)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, err := h.products.GetProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// Upsert lets a developer change a price or availability to exercise guest
// cart validation.
func (h *ProductHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpsertProductRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := domain.ValidateStruct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	p := catalog.Product{
		ProductID: chi.URLParam(r, "productID"),
		Name:      req.Name,
		Price:     req.Price,
		Available: req.Available,
	}
	if err := h.products.UpsertProduct(ctx, p); err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.products.DeleteProduct(ctx, chi.URLParam(r, "productID")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
