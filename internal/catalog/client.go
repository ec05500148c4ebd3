// Package catalog looks up the current price and availability of products.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrProductNotFound = errors.New("product not found")

type Product struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Available bool   `json:"available"`
}

// Lookup is what guest cart validation needs from the catalog.
type Lookup interface {
	Product(ctx context.Context, productID string) (Product, error)
}

type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// Product fetches one product. A 404 yields ErrProductNotFound, every other
// failure wraps domain.ErrUnavailable.
func (c *Client) Product(ctx context.Context, productID string) (Product, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/products/"+url.PathEscape(productID), nil)
	if err != nil {
		return Product{}, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Product{}, fmt.Errorf("%w: catalog: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	case resp.StatusCode != http.StatusOK:
		return Product{}, fmt.Errorf("%w: catalog returned status %d", domain.ErrUnavailable, resp.StatusCode)
	}

	var p Product
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Product{}, fmt.Errorf("%w: failed to decode product: %v", domain.ErrUnavailable, err)
	}
	if p.ProductID == "" {
		p.ProductID = productID
	}
	return p, nil
}
