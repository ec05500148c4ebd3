package http

import (
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/devserver/repository"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	Service        CollectionService
	Products       repository.ProductRepository
	JWTSecret      []byte
	RequestTimeout time.Duration
	Logger         logrus.FieldLogger
}

// NewRouter serves the cart and saved-items resources, the product catalog
// and a health check.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	products := NewProductHandler(cfg.Products, cfg.RequestTimeout)
	r.Route("/products", func(r chi.Router) {
		r.Get("/", products.List)
		r.Get("/{productID}", products.Get)
		r.Put("/{productID}", products.Upsert)
		r.Delete("/{productID}", products.Delete)
	})

	for _, kind := range []domain.Kind{domain.KindCart, domain.KindSaved} {
		h := NewCollectionHandler(kind, cfg.Service, cfg.RequestTimeout)
		r.Route("/"+kind.String()+"/{ownerID}", func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.JWTSecret))
			r.Use(OwnerMiddleware)

			r.Get("/", h.Get)
			r.Post("/", h.AddItem)
			r.Delete("/", h.Clear)
			r.Delete("/{productID}", h.RemoveItem)
			if kind == domain.KindCart {
				r.Put("/{productID}", h.UpdateQuantity)
			}
		})
	}

	return otelhttp.NewHandler(r, "storefront-devapi")
}
