package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"breakout-trader-go/internal/config"
	"breakout-trader-go/internal/gateway"
	"breakout-trader-go/internal/models"
)

// ErrorKind classifies a gateway failure for counting and logging.
type ErrorKind string

const (
	ErrorConnection ErrorKind = "connection"
	ErrorOrder      ErrorKind = "order"
	ErrorData       ErrorKind = "data"
	ErrorTimeout    ErrorKind = "timeout"
	ErrorUnknown    ErrorKind = "unknown"
)

// classifyError buckets a gateway error by its likely cause.
func classifyError(err error, op string) ErrorKind {
	if err == nil {
		return ErrorUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTimeout
		}
		return ErrorConnection
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return ErrorTimeout
	case strings.Contains(msg, "connection") || strings.Contains(msg, "refused") || strings.Contains(msg, "reset"):
		return ErrorConnection
	case strings.HasPrefix(op, "order"):
		return ErrorOrder
	case strings.HasPrefix(op, "data"):
		return ErrorData
	}
	return ErrorUnknown
}

// Guard wraps a gateway client with connect-retry, rate-limited health
// monitoring, a circuit breaker on the order path and "safe" variants of
// every operation that log instead of propagating failures.
type Guard struct {
	client  gateway.Client
	breaker *Breaker
	logger  *zap.Logger

	maxRetries    int
	baseDelay     time.Duration
	checkInterval time.Duration

	mu          sync.Mutex
	lastCheck   time.Time
	lastHealthy bool
	errorCounts map[ErrorKind]int
}

// NewGuard creates a resilience guard around the gateway client.
func NewGuard(client gateway.Client, cfg *config.Resilience, logger *zap.Logger) *Guard {
	return &Guard{
		client:        client,
		breaker:       NewBreaker(cfg.ErrorThreshold, time.Duration(cfg.CooldownSeconds)*time.Second),
		logger:        logger.Named("resilience"),
		maxRetries:    cfg.MaxRetries,
		baseDelay:     time.Duration(cfg.BaseDelaySeconds * float64(time.Second)),
		checkInterval: time.Duration(cfg.CheckIntervalSeconds) * time.Second,
		errorCounts:   make(map[ErrorKind]int),
	}
}

// Breaker exposes the order-path circuit breaker, mainly for callers that
// want to check it before preparing an order.
func (g *Guard) Breaker() *Breaker {
	return g.breaker
}

// recordFailure classifies, counts and logs a failed operation.
func (g *Guard) recordFailure(op string, err error) {
	kind := classifyError(err, op)

	g.mu.Lock()
	g.errorCounts[kind]++
	count := g.errorCounts[kind]
	g.mu.Unlock()

	g.breaker.Failure()
	g.logger.Error("Gateway operation failed",
		zap.String("op", op),
		zap.String("kind", string(kind)),
		zap.Int("kind_count", count),
		zap.String("breaker", g.breaker.State().String()),
		zap.Error(err),
	)
}

// ConnectWithRetry attempts to connect up to maxRetries times with
// exponential backoff (baseDelay x 2^(attempt-1)). It fails closed: false
// after exhausting retries.
func (g *Guard) ConnectWithRetry(ctx context.Context) bool {
	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		err := g.client.Connect(ctx)
		if err == nil {
			g.breaker.Success()
			g.logger.Info("Gateway connected", zap.Int("attempt", attempt))
			return true
		}

		g.recordFailure("connect", err)

		if attempt == g.maxRetries {
			break
		}

		delay := g.baseDelay * time.Duration(1<<(attempt-1))
		g.logger.Warn("Connect failed, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		}
	}

	g.logger.Error("Gateway connect retries exhausted", zap.Int("max_retries", g.maxRetries))
	return false
}

// MonitorConnection performs at most one real health check per check
// interval; calls inside the interval return the cached result.
func (g *Guard) MonitorConnection(ctx context.Context) bool {
	g.mu.Lock()
	if time.Since(g.lastCheck) < g.checkInterval {
		healthy := g.lastHealthy
		g.mu.Unlock()
		return healthy
	}
	g.lastCheck = time.Now()
	g.mu.Unlock()

	err := g.client.Connect(ctx)
	healthy := err == nil

	g.mu.Lock()
	g.lastHealthy = healthy
	g.mu.Unlock()

	if err != nil {
		g.recordFailure("connect", err)
	} else {
		g.breaker.Success()
	}
	return healthy
}

// SafePlaceOrder places an order through the circuit breaker. While the
// breaker is open the call short-circuits immediately without touching the
// gateway.
func (g *Guard) SafePlaceOrder(ctx context.Context, req *gateway.OrderRequest) (*gateway.Order, bool) {
	if err := g.breaker.Check(); err != nil {
		g.logger.Warn("Order short-circuited", zap.String("symbol", req.Symbol), zap.Error(err))
		return nil, false
	}

	order, err := g.client.PlaceOrder(ctx, req)
	if err != nil {
		g.recordFailure("order:place", err)
		return nil, false
	}

	g.breaker.Success()
	return order, true
}

// SafeCancelOrder cancels a resting order, absorbing failures.
func (g *Guard) SafeCancelOrder(ctx context.Context, orderID string) bool {
	if err := g.breaker.Check(); err != nil {
		g.logger.Warn("Cancel short-circuited", zap.String("order_id", orderID), zap.Error(err))
		return false
	}

	if err := g.client.CancelOrder(ctx, orderID); err != nil {
		g.recordFailure("order:cancel", err)
		return false
	}

	g.breaker.Success()
	return true
}

// SafeGetPositions fetches the live portfolio, returning nil on failure.
func (g *Guard) SafeGetPositions(ctx context.Context) ([]models.GatewayPosition, bool) {
	positions, err := g.client.GetPositions(ctx)
	if err != nil {
		g.recordFailure("data:positions", err)
		return nil, false
	}
	g.breaker.Success()
	return positions, true
}

// SafeGetOpenOrders fetches resting orders, returning nil on failure.
func (g *Guard) SafeGetOpenOrders(ctx context.Context) ([]gateway.Order, bool) {
	orders, err := g.client.GetOpenOrders(ctx)
	if err != nil {
		g.recordFailure("data:orders", err)
		return nil, false
	}
	g.breaker.Success()
	return orders, true
}

// SafeQualifyInstrument checks instrument tradability, defaulting to not
// tradable on failure.
func (g *Guard) SafeQualifyInstrument(ctx context.Context, symbol string) bool {
	tradable, err := g.client.QualifyInstrument(ctx, symbol)
	if err != nil {
		g.recordFailure("data:qualify", err)
		return false
	}
	g.breaker.Success()
	return tradable
}

// SafeGetBars fetches market data, returning nil on failure.
func (g *Guard) SafeGetBars(ctx context.Context, symbol string, limit int) ([]models.Bar, bool) {
	bars, err := g.client.GetBars(ctx, symbol, limit)
	if err != nil {
		g.recordFailure("data:bars", err)
		return nil, false
	}
	g.breaker.Success()
	return bars, true
}
