package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/devserver/repository"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
)

// CollectionService is what the handlers need from the service layer.
type CollectionService interface {
	Get(ctx context.Context, kind domain.Kind, ownerID string) (*repository.Document, error)
	AddItem(ctx context.Context, kind domain.Kind, ownerID string, item domain.Item) (domain.Item, error)
	UpdateQuantity(ctx context.Context, kind domain.Kind, ownerID, productID string, quantity int) (domain.Item, error)
	RemoveItem(ctx context.Context, kind domain.Kind, ownerID, productID string) error
	Clear(ctx context.Context, kind domain.Kind, ownerID string) error
}

type CollectionHandler struct {
	kind    domain.Kind
	service CollectionService
	timeout time.Duration
}

func NewCollectionHandler(kind domain.Kind, service CollectionService, timeout time.Duration) *CollectionHandler {
	return &CollectionHandler{
		kind:    kind,
		service: service,
		timeout: timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID string `json:"productId" validate:"required,max=128"`
	Quantity  int    `json:"quantity" validate:"gte=0,lte=999"`
	Price     int64  `json:"price" validate:"gte=0"`
	Name      string `json:"name" validate:"max=256"`
	ImagePath string `json:"imagePath" validate:"max=1024"`
	Category  string `json:"category" validate:"max=128"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity" validate:"gte=1,lte=999"`
}

type CollectionResponseDTO struct {
	Items        []domain.Item `json:"items"`
	LastModified time.Time     `json:"lastModified"`
}

func (h *CollectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	doc, err := h.service.Get(ctx, h.kind, chi.URLParam(r, "ownerID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	items := doc.Items
	if items == nil {
		items = []domain.Item{}
	}
	respondJSON(w, http.StatusOK, CollectionResponseDTO{Items: items, LastModified: doc.UpdatedAt})
}

func (h *CollectionHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := domain.ValidateStruct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	item, err := h.service.AddItem(ctx, h.kind, chi.URLParam(r, "ownerID"), domain.Item{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Name:      req.Name,
		ImagePath: req.ImagePath,
		Category:  req.Category,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, item)
}

func (h *CollectionHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := domain.ValidateStruct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	item, err := h.service.UpdateQuantity(ctx, h.kind, chi.URLParam(r, "ownerID"), chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, item)
}

func (h *CollectionHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	err := h.service.RemoveItem(ctx, h.kind, chi.URLParam(r, "ownerID"), chi.URLParam(r, "productID"))
	if err != nil {
		if errors.Is(err, repository.ErrCollectionNotFound) {
			err = repository.ErrItemNotFound
		}
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CollectionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.service.Clear(ctx, h.kind, chi.URLParam(r, "ownerID")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
