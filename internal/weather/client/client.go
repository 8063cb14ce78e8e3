package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pocketscreen/mobile-services/internal/circuitbreaker"
	"github.com/pocketscreen/mobile-services/internal/weather/models"
	"github.com/pocketscreen/mobile-services/internal/weather/observability"
)

// Client fetches current conditions from the weather provider.
type Client interface {
	CurrentConditions(ctx context.Context, location string) (models.Reading, error)
	ValidateKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
)

// IsCallerError reports whether the error is the caller's fault (bad key,
// unknown location) rather than an upstream outage. Caller errors are never
// papered over with stale cache data.
func IsCallerError(err error) bool {
	return errors.Is(err, ErrInvalidAPIKey) || errors.Is(err, ErrLocationNotFound)
}

// providerErrNoMatch is the provider's error code for "no matching location".
const providerErrNoMatch = 1006

// WeatherAPIClient talks to a WeatherAPI-style current-conditions endpoint:
// GET {url}?key=<apiKey>&q=<location>, where q is a place name or "lat,lon".
type WeatherAPIClient struct {
	apiKey         string
	apiURL         string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
}

func NewWeatherAPIClient(apiKey, apiURL string, timeout time.Duration) (*WeatherAPIClient, error) {
	return NewWeatherAPIClientWithRetry(apiKey, apiURL, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

func NewWeatherAPIClientWithRetry(apiKey, apiURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*WeatherAPIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}

	return &WeatherAPIClient{
		apiKey:         apiKey,
		apiURL:         apiURL,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker wires an optional breaker around provider calls. When the
// circuit is open, CurrentConditions fails fast with ErrUpstreamFailure.
func (c *WeatherAPIClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

type currentResponse struct {
	Location struct {
		Name    string `json:"name"`
		Region  string `json:"region"`
		Country string `json:"country"`
	} `json:"location"`
	Current struct {
		TempC      float64 `json:"temp_c"`
		FeelsLikeC float64 `json:"feelslike_c"`
		Humidity   int     `json:"humidity"`
		WindKph    float64 `json:"wind_kph"`
		PressureMb float64 `json:"pressure_mb"`
		VisKm      float64 `json:"vis_km"`
		UV         float64 `json:"uv"`
		Condition  struct {
			Text string `json:"text"`
			Icon string `json:"icon"`
		} `json:"condition"`
	} `json:"current"`
}

type providerError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CurrentConditions fetches one reading, retrying retryable failures with
// exponential backoff. Non-retryable errors (bad key, unknown location, open
// breaker) return immediately.
func (c *WeatherAPIClient) CurrentConditions(ctx context.Context, location string) (models.Reading, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return models.Reading{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := c.fetch(ctx, location)
		if err == nil {
			return result, nil
		}

		lastErr = err
		observability.UpstreamErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		if !c.isRetryable(err) {
			return models.Reading{}, err
		}
	}

	return models.Reading{}, fmt.Errorf("exhausted retries: %w", lastErr)
}

// fetch performs one provider call, through the breaker when configured.
func (c *WeatherAPIClient) fetch(ctx context.Context, location string) (models.Reading, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, location)
	}
	var result models.Reading
	err := c.breaker.Call(ctx, func() error {
		var callErr error
		result, callErr = c.callAPI(ctx, location)
		return callErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return models.Reading{}, fmt.Errorf("%w: %w", ErrUpstreamFailure, err)
	}
	return result, err
}

func (c *WeatherAPIClient) callAPI(ctx context.Context, location string) (models.Reading, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, location)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues("error").Inc()
		return models.Reading{}, fmt.Errorf("build request: %w", err)
	}

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.UpstreamCallsTotal.WithLabelValues("error").Inc()
		observability.UpstreamDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.Reading{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.Reading{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(status).Inc()
	observability.UpstreamDuration.WithLabelValues(status).Observe(duration)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Reading{}, fmt.Errorf("read response body: %w", err)
	}

	if err := c.mapErrorResponse(resp.StatusCode, body); err != nil {
		return models.Reading{}, err
	}

	var apiResp currentResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.Reading{}, fmt.Errorf("parse response: %w", err)
	}

	return c.mapResponse(apiResp, location), nil
}

func (c *WeatherAPIClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	// An open breaker fails fast on purpose; retrying would just hammer it.
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded") || strings.Contains(errStr, "context canceled") {
		return true
	}

	return false
}

func (c *WeatherAPIClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *WeatherAPIClient) buildRequest(ctx context.Context, location string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("q", location)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

// mapErrorResponse translates non-2xx provider responses to sentinel errors.
// The provider reports unknown locations as 400 with error code 1006, so the
// body is consulted for that status.
func (c *WeatherAPIClient) mapErrorResponse(statusCode int, body []byte) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: key rejected (HTTP %d)", ErrInvalidAPIKey, statusCode)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrLocationNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case http.StatusBadRequest:
		var perr providerError
		if err := json.Unmarshal(body, &perr); err == nil && perr.Error.Code == providerErrNoMatch {
			return fmt.Errorf("%w", ErrLocationNotFound)
		}
		return fmt.Errorf("%w: HTTP 400: %s", ErrUpstreamFailure, strings.TrimSpace(string(body)))
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, statusCode)
	}

	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, statusCode)
	}

	return nil
}

func (c *WeatherAPIClient) mapResponse(apiResp currentResponse, location string) models.Reading {
	displayName := apiResp.Location.Name
	if displayName == "" {
		displayName = location
	}

	return models.Reading{
		Location:    displayName,
		Temperature: apiResp.Current.TempC,
		FeelsLike:   apiResp.Current.FeelsLikeC,
		Humidity:    apiResp.Current.Humidity,
		WindSpeed:   apiResp.Current.WindKph,
		Pressure:    apiResp.Current.PressureMb,
		Visibility:  apiResp.Current.VisKm,
		UVIndex:     apiResp.Current.UV,
		Conditions:  apiResp.Current.Condition.Text,
		Icon:        apiResp.Current.Condition.Icon,
		Timestamp:   time.Now(),
	}
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateKey probes the provider with a fixed query to confirm the API key is
// accepted. Used by the health endpoint.
func (c *WeatherAPIClient) ValidateKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, "London")
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
