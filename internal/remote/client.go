package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/auth"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
)

// Store is the remote side of a collection as the sync service sees it.
type Store interface {
	AddItem(ctx context.Context, kind domain.Kind, owner string, item domain.Item) (domain.Item, error)
	RemoveItem(ctx context.Context, kind domain.Kind, owner, productID string) error
	UpdateQuantity(ctx context.Context, kind domain.Kind, owner, productID string, quantity int) (domain.Item, error)
	List(ctx context.Context, kind domain.Kind, owner string) (domain.Collection, error)
}

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	Tokens    auth.TokenSource
	Transport http.RoundTripper
	Logger    logrus.FieldLogger
}

// Client talks to the cart and saved-items REST resources. It keeps no state
// besides the circuit breaker; every call is one HTTP round trip.
type Client struct {
	baseURL    string
	timeout    time.Duration
	tokens     auth.TokenSource
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	log        logrus.FieldLogger
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity,omitempty"`
	Price     int64  `json:"price,omitempty"`
	Name      string `json:"name,omitempty"`
	ImagePath string `json:"imagePath,omitempty"`
	Category  string `json:"category,omitempty"`
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type listResponse struct {
	Items        []domain.Item `json:"items"`
	LastModified time.Time     `json:"lastModified"`
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Tokens == nil {
		cfg.Tokens = auth.StaticToken("")
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		tokens:  cfg.Tokens,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(cfg.Transport),
		},
		log: cfg.Logger.WithField("component", "remote"),
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "remote-store",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("circuit breaker state changed")
		},
	})
	return c
}

// isBreakerSuccess keeps client-side failures (401, validation) from opening
// the breaker; only server or network failures count.
func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, domain.ErrUnauthorized) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode < http.StatusInternalServerError
	}
	return false
}

func (c *Client) AddItem(ctx context.Context, kind domain.Kind, owner string, item domain.Item) (domain.Item, error) {
	req := addItemRequest{
		ProductID: item.ProductID,
		Price:     item.Price,
		Name:      item.Name,
		ImagePath: item.ImagePath,
		Category:  item.Category,
	}
	if kind == domain.KindCart {
		req.Quantity = item.Quantity
	}

	var out domain.Item
	if err := c.do(ctx, http.MethodPost, resourcePath(kind, owner), req, &out, false); err != nil {
		return domain.Item{}, err
	}
	return out, nil
}

// RemoveItem deletes a line. A line the server does not know is treated as
// already removed.
func (c *Client) RemoveItem(ctx context.Context, kind domain.Kind, owner, productID string) error {
	return c.do(ctx, http.MethodDelete, itemPath(kind, owner, productID), nil, nil, true)
}

func (c *Client) UpdateQuantity(ctx context.Context, kind domain.Kind, owner, productID string, quantity int) (domain.Item, error) {
	if kind != domain.KindCart {
		return domain.Item{}, domain.ErrUnsupported
	}

	var out domain.Item
	err := c.do(ctx, http.MethodPut, itemPath(kind, owner, productID), updateQuantityRequest{Quantity: quantity}, &out, false)
	if err != nil {
		return domain.Item{}, err
	}
	return out, nil
}

func (c *Client) List(ctx context.Context, kind domain.Kind, owner string) (domain.Collection, error) {
	var out listResponse
	if err := c.do(ctx, http.MethodGet, resourcePath(kind, owner), nil, &out, false); err != nil {
		return domain.Collection{}, err
	}

	col := domain.NewCollection(kind)
	if out.Items != nil {
		col.Items = out.Items
	}
	col.LastModified = out.LastModified
	return col, nil
}

// Ping checks the health endpoint. It bypasses the circuit breaker so that a
// recovered server is noticed while the breaker is still open.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.roundTrip(ctx, http.MethodGet, "/health", nil, false, false)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, notFoundOK bool) error {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, in, true, notFoundOK)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
		}
		return err
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: failed to decode %s %s response: %v", domain.ErrUnavailable, method, path, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in interface{}, authorize, notFoundOK bool) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorize {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: reading body: %v", domain.ErrUnavailable, method, path, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	if notFoundOK && resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	se := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
	var er errorResponse
	if json.Unmarshal(body, &er) == nil {
		se.Code = er.Code
		se.Message = er.Error
	}
	c.log.WithFields(logrus.Fields{"method": method, "path": path, "status": resp.StatusCode}).
		Debug("remote call failed")
	return nil, se
}

func resourcePath(kind domain.Kind, owner string) string {
	return "/" + kind.String() + "/" + url.PathEscape(owner)
}

func itemPath(kind domain.Kind, owner, productID string) string {
	return resourcePath(kind, owner) + "/" + url.PathEscape(productID)
}
