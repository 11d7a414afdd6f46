package marketctx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/meridianhq/autopilot/internal/domain"
)

// PhaseSource reports the current market phase for a tenant. The analytics
// feed is an external collaborator; only this boundary is modeled.
type PhaseSource interface {
	Phase(ctx context.Context, orgID string) (domain.MarketPhase, error)
}

// AnalyticsConfig configures the outbound analytics client.
type AnalyticsConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
	Burst          int           `yaml:"burst"`
}

// DefaultAnalyticsConfig returns client defaults.
func DefaultAnalyticsConfig() AnalyticsConfig {
	return AnalyticsConfig{
		RequestTimeout: 5 * time.Second,
		RequestsPerSec: 10,
		Burst:          5,
	}
}

// AnalyticsClient calls the market-analytics feed over HTTP. A slow or
// failing feed must never stall a tenant cycle, so calls are rate limited
// and wrapped in a circuit breaker; callers treat any error as "phase
// unknown" and fall back to the consolidation baseline.
type AnalyticsClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewAnalyticsClient builds the feed client.
func NewAnalyticsClient(cfg AnalyticsConfig) *AnalyticsClient {
	settings := gobreaker.Settings{
		Name:     "market-analytics",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &AnalyticsClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
	}
}

type phaseResponse struct {
	Phase string `json:"phase"`
}

// Phase fetches the tenant's phase from the feed.
func (c *AnalyticsClient) Phase(ctx context.Context, orgID string) (domain.MarketPhase, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("analytics rate limit: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		endpoint := fmt.Sprintf("%s/v1/orgs/%s/phase", c.baseURL, url.PathEscape(orgID))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("analytics feed returned %d", resp.StatusCode)
		}
		var body phaseResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("decode phase response: %w", err)
		}
		return domain.MarketPhase(body.Phase), nil
	})
	if err != nil {
		return "", fmt.Errorf("analytics feed: %w", err)
	}
	return result.(domain.MarketPhase), nil
}

// StaticPhaseSource returns a fixed phase per org; used in dev mode and
// tests.
type StaticPhaseSource map[string]domain.MarketPhase

func (s StaticPhaseSource) Phase(_ context.Context, orgID string) (domain.MarketPhase, error) {
	if phase, ok := s[orgID]; ok {
		return phase, nil
	}
	return "", fmt.Errorf("no phase for org %s", orgID)
}
