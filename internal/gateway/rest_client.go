// Package gateway is the REST client for the external broker venue. All
// strategy-side callers reach it through the resilience layer, never
// directly.
package gateway

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"breakout-trader-go/internal/config"
	"breakout-trader-go/internal/models"
)

const (
	liveBaseURL  = "https://api.alpaca.markets"
	paperBaseURL = "https://paper-api.alpaca.markets"

	OrderTypeMarket = "market"
	OrderTypeStop   = "stop"
	OrderSideBuy    = "buy"
	OrderSideSell   = "sell"
)

// Client defines the broker operations consumed by the rest of the system.
type Client interface {
	Connect(ctx context.Context) error
	QualifyInstrument(ctx context.Context, symbol string) (bool, error)
	PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetPositions(ctx context.Context) ([]models.GatewayPosition, error)
	GetOpenOrders(ctx context.Context) ([]Order, error)
	GetBars(ctx context.Context, symbol string, limit int) ([]models.Bar, error)
}

// OrderRequest describes an order to be placed at the venue.
type OrderRequest struct {
	Symbol      string  `json:"symbol"`
	Qty         int     `json:"qty,string"`
	Side        string  `json:"side"`
	Type        string  `json:"type"`
	StopPrice   float64 `json:"stop_price,string,omitempty"`
	TimeInForce string  `json:"time_in_force"`
}

// Order is the venue's view of a placed order.
type Order struct {
	ID             string `json:"id"`
	Symbol         string `json:"symbol"`
	Qty            string `json:"qty"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	FilledAvgPrice string `json:"filled_avg_price"`
}

// RestClient is a rate-limited client for the broker REST API.
// It implements the Client interface.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
}

// ensure RestClient implements the interface
var _ Client = (*RestClient)(nil)

// NewRestClient creates a new broker REST API client.
func NewRestClient(cfg *config.Gateway, logger *zap.Logger) *RestClient {
	var url string
	if cfg.Paper {
		url = paperBaseURL
		logger.Warn("Using paper trading endpoint")
	} else {
		url = liveBaseURL
		logger.Info("Using live trading endpoint")
	}

	client := resty.New().
		SetBaseURL(url).
		SetHeader("APCA-API-KEY-ID", cfg.ApiKey).
		SetHeader("APCA-API-SECRET-KEY", cfg.SecretKey)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		logger:    logger,
		limiter:   limiter,
	}
}

// doRequest handles request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.SetContext(ctx).Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// Connect probes the account endpoint to verify credentials and
// connectivity.
func (c *RestClient) Connect(ctx context.Context) error {
	type accountResponse struct {
		Status string `json:"status"`
	}

	req := c.client.R().SetResult(&accountResponse{})
	resp, err := c.doRequest(ctx, "GET", "/v2/account", req)
	if err != nil {
		return fmt.Errorf("failed to reach account endpoint: %w", err)
	}

	account := resp.Result().(*accountResponse)
	if account.Status != "ACTIVE" {
		return fmt.Errorf("account is not active: %s", account.Status)
	}
	return nil
}

// QualifyInstrument checks that the symbol exists at the venue and is
// tradable.
func (c *RestClient) QualifyInstrument(ctx context.Context, symbol string) (bool, error) {
	type assetResponse struct {
		Symbol   string `json:"symbol"`
		Tradable bool   `json:"tradable"`
	}

	req := c.client.R().SetResult(&assetResponse{})
	resp, err := c.doRequest(ctx, "GET", "/v2/assets/"+symbol, req)
	if err != nil {
		return false, fmt.Errorf("failed to qualify %s: %w", symbol, err)
	}

	asset := resp.Result().(*assetResponse)
	return asset.Tradable, nil
}

// PlaceOrder submits an order to the venue.
func (c *RestClient) PlaceOrder(ctx context.Context, order *OrderRequest) (*Order, error) {
	if order.TimeInForce == "" {
		order.TimeInForce = "day"
	}

	req := c.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(order).
		SetResult(&Order{})

	resp, err := c.doRequest(ctx, "POST", "/v2/orders", req)
	if err != nil {
		c.logger.Error("Failed to place order after multiple attempts",
			zap.Error(err),
			zap.String("symbol", order.Symbol),
		)
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	result := resp.Result().(*Order)
	c.logger.Info("Successfully placed order", zap.Any("order", result))
	return result, nil
}

// CancelOrder cancels a resting order by ID.
func (c *RestClient) CancelOrder(ctx context.Context, orderID string) error {
	req := c.client.R()
	if _, err := c.doRequest(ctx, "DELETE", "/v2/orders/"+orderID, req); err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}
	return nil
}

// gatewayPosition matches the venue's position payload; quantities come
// back as strings.
type gatewayPosition struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	AvgEntryPrice string `json:"avg_entry_price"`
}

// GetPositions returns the venue's live portfolio.
func (c *RestClient) GetPositions(ctx context.Context) ([]models.GatewayPosition, error) {
	var raw []gatewayPosition

	req := c.client.R().SetResult(&raw)
	resp, err := c.doRequest(ctx, "GET", "/v2/positions", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	result := *resp.Result().(*[]gatewayPosition)
	positions := make([]models.GatewayPosition, 0, len(result))
	for _, gp := range result {
		qty, err := strconv.Atoi(gp.Qty)
		if err != nil {
			c.logger.Warn("Skipping position with unparsable quantity",
				zap.String("symbol", gp.Symbol), zap.String("qty", gp.Qty))
			continue
		}
		avgCost, _ := strconv.ParseFloat(gp.AvgEntryPrice, 64)

		side := models.SideLong
		if gp.Side == "short" || qty < 0 {
			side = models.SideShort
			if qty < 0 {
				qty = -qty
			}
		}

		positions = append(positions, models.GatewayPosition{
			Symbol:  gp.Symbol,
			Side:    side,
			Shares:  qty,
			AvgCost: avgCost,
		})
	}

	return positions, nil
}

// GetOpenOrders returns all resting orders at the venue.
func (c *RestClient) GetOpenOrders(ctx context.Context) ([]Order, error) {
	var orders []Order

	req := c.client.R().
		SetResult(&orders).
		SetQueryParam("status", "open")

	resp, err := c.doRequest(ctx, "GET", "/v2/orders", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get open orders: %w", err)
	}

	return *resp.Result().(*[]Order), nil
}

// barPayload matches the venue's bar schema.
type barPayload struct {
	Bars []struct {
		T time.Time `json:"t"`
		O float64   `json:"o"`
		H float64   `json:"h"`
		L float64   `json:"l"`
		C float64   `json:"c"`
		V float64   `json:"v"`
	} `json:"bars"`
}

// GetBars fetches the most recent bars for a symbol.
func (c *RestClient) GetBars(ctx context.Context, symbol string, limit int) ([]models.Bar, error) {
	var payload barPayload

	req := c.client.R().
		SetResult(&payload).
		SetQueryParam("limit", strconv.Itoa(limit))

	resp, err := c.doRequest(ctx, "GET", "/v2/stocks/"+symbol+"/bars", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get bars for %s: %w", symbol, err)
	}

	result := resp.Result().(*barPayload)
	bars := make([]models.Bar, 0, len(result.Bars))
	for _, b := range result.Bars {
		bars = append(bars, models.Bar{
			Time:   b.T,
			Open:   b.O,
			High:   b.H,
			Low:    b.L,
			Close:  b.C,
			Volume: b.V,
		})
	}
	return bars, nil
}
