package planet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
	"github.com/kirillkom/imagery-acquisition/internal/infrastructure/resilience"
)

const (
	DefaultSearchURL = "https://api.planet.com/data/v1/quick-search"
	DefaultOrdersURL = "https://api.planet.com/compute/ops/orders/v2"
)

// RequestObserver is notified after every HTTP exchange with the vendor.
// statusCode is 0 when no response was received.
type RequestObserver interface {
	ObserveVendorRequest(operation string, statusCode int, duration time.Duration)
}

type Options struct {
	APIKey        string
	SearchURL     string
	OrdersURL     string
	ItemType      string
	ProductBundle string
	Timeout       time.Duration

	// RateLimit is the steady request rate shared by every call; <= 0 disables the limiter.
	RateLimit float64
	RateBurst int

	// Retry governs the 429 backoff loop around each call.
	Retry resilience.Config

	HTTPClient *http.Client
	Observer   RequestObserver
}

type Client struct {
	apiKey        string
	searchURL     string
	ordersURL     string
	itemType      string
	productBundle string

	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
	observer   RequestObserver
}

func New(opts Options) *Client {
	searchURL := opts.SearchURL
	if searchURL == "" {
		searchURL = DefaultSearchURL
	}
	ordersURL := opts.OrdersURL
	if ordersURL == "" {
		ordersURL = DefaultOrdersURL
	}
	itemType := opts.ItemType
	if itemType == "" {
		itemType = "PSScene"
	}
	bundle := opts.ProductBundle
	if bundle == "" {
		bundle = "visual"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Client{
		apiKey:        opts.APIKey,
		searchURL:     searchURL,
		ordersURL:     strings.TrimRight(ordersURL, "/"),
		itemType:      itemType,
		productBundle: bundle,
		httpClient:    httpClient,
		limiter:       limiter,
		executor:      resilience.NewExecutor(opts.Retry),
		observer:      opts.Observer,
	}
}

func (c *Client) Search(ctx context.Context, criteria domain.SearchCriteria) ([]domain.SceneCandidate, error) {
	if criteria.ItemType == "" {
		criteria.ItemType = c.itemType
	}
	request := buildSearchRequest(criteria)

	var response searchResponse
	err := c.call(ctx, "search", func(ctx context.Context) error {
		response = searchResponse{}
		return c.doJSON(ctx, http.MethodPost, c.searchURL, request, &response, "search")
	})
	if err != nil {
		return nil, err
	}

	scenes := make([]domain.SceneCandidate, 0, len(response.Features))
	for _, f := range response.Features {
		scene := domain.SceneCandidate{ID: f.ID, CloudCover: f.Properties.CloudCover}
		if acquired, err := time.Parse(time.RFC3339Nano, f.Properties.Acquired); err == nil {
			scene.Acquired = acquired
		}
		scenes = append(scenes, scene)
	}
	return scenes, nil
}

func (c *Client) PlaceOrder(ctx context.Context, sceneID string, polygon domain.BoundingPolygon, labelSuffix string) (string, error) {
	if strings.TrimSpace(sceneID) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "planet place order", errors.New("empty scene id"))
	}
	request := buildOrderRequest(sceneID, c.itemType, c.productBundle, polygon, labelSuffix)

	var response orderResponse
	err := c.call(ctx, "place_order", func(ctx context.Context) error {
		response = orderResponse{}
		return c.doJSON(ctx, http.MethodPost, c.ordersURL, request, &response, "place_order")
	})
	if err != nil {
		return "", err
	}
	if response.ID == "" {
		return "", domain.WrapError(domain.ErrTemporary, "planet place order", errors.New("response carries no order id"))
	}
	return response.ID, nil
}

func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderState, error) {
	endpoint := c.ordersURL + "/" + url.PathEscape(orderID)

	var response orderStatusResponse
	err := c.call(ctx, "order_status", func(ctx context.Context) error {
		response = orderStatusResponse{}
		return c.doJSON(ctx, http.MethodGet, endpoint, nil, &response, "order_status")
	})
	if err != nil {
		return domain.OrderState{}, err
	}

	state := domain.OrderState{
		Status:    domain.ParseOrderStatus(response.State),
		RawStatus: response.State,
	}
	if state.Status == domain.OrderSuccess {
		for _, r := range response.Links.Results {
			state.Assets = append(state.Assets, domain.AssetDescriptor{Name: r.Name, DownloadURL: r.Location})
		}
	}
	return state, nil
}

func (c *Client) DownloadAsset(ctx context.Context, assetURL string) ([]byte, error) {
	var body []byte
	err := c.call(ctx, "download", func(ctx context.Context) error {
		var err error
		body, err = c.getBytes(ctx, assetURL, "download")
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// call paces fn through the shared limiter and retries it while the vendor answers 429.
func (c *Client) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	err := c.executor.Execute(ctx, "planet."+operation, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("planet %s rate limiter: %w", operation, err)
		}
		return fn(ctx)
	}, classifyVendorError)
	return wrapTemporaryIfNeeded("planet "+operation, err)
}
