package erp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stock-reconciler/internal/models"
	"stock-reconciler/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotFound means the upstream confirmed the record does not exist.
	ErrNotFound = errors.New("record not found upstream")

	// ErrInvalidIdentifier means the upstream rejected the lookup as
	// malformed after both resolution strategies were tried.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// statusError carries a non-2xx status through the retry wrapper so the
// cross-fallback logic can inspect it. retryAfter is only populated on 429
// responses.
type statusError struct {
	status     int
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.status)
}

// IsUUID reports whether the identifier has the canonical UUID shape.
// Historical rows store either a UUID or an opaque code in the same column,
// so this only selects the first lookup strategy, not the only one.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// Client performs product and customer lookups against the upstream
// inventory API, pacing every call through the rate controller and retrying
// transient failures with exponential backoff.
type Client struct {
	baseURL    string
	partnerID  string
	maxRetries int
	httpClient *http.Client
	creds      Credentials
	rate       *RateController
	sem        chan struct{}
	logger     *zap.Logger
}

// NewClient creates an upstream API client. maxConcurrency bounds parallel
// outbound calls across the poll loop and overlapping webhook handlers.
func NewClient(baseURL, partnerID string, creds Credentials, rate *RateController,
	timeout time.Duration, maxRetries, maxConcurrency int) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		partnerID:  partnerID,
		maxRetries: maxRetries,
		httpClient: &http.Client{Timeout: timeout},
		creds:      creds,
		rate:       rate,
		sem:        make(chan struct{}, maxConcurrency),
		logger:     util.GetLogger(),
	}
}

// FetchProduct resolves one product by its stored external identifier. A
// UUID-shaped identifier is tried against the by-id endpoint first, anything
// else against the by-code endpoint; a 400 or 404 from the first strategy is
// retried once with the other before giving up.
func (c *Client) FetchProduct(ctx context.Context, externalID string) (*models.RemoteSnapshot, error) {
	ctx, span := util.StartSpan(ctx, "erp.FetchProduct")
	defer span.End()

	var body []byte
	var err error

	if IsUUID(externalID) {
		body, err = c.fetchByID(ctx, externalID)
		if isLookupMiss(err) {
			body, err = c.fetchByCode(ctx, externalID)
		}
	} else {
		body, err = c.fetchByCode(ctx, externalID)
		if isLookupMiss(err) {
			body, err = c.fetchByID(ctx, externalID)
		}
	}

	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			switch se.status {
			case http.StatusNotFound:
				return nil, ErrNotFound
			case http.StatusBadRequest:
				return nil, ErrInvalidIdentifier
			}
		}
		return nil, err
	}

	return normalizeProduct(body)
}

func isLookupMiss(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	return se.status == http.StatusBadRequest || se.status == http.StatusNotFound
}

func (c *Client) fetchByID(ctx context.Context, id string) ([]byte, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/products/"+url.PathEscape(id), nil, nil)
}

func (c *Client) fetchByCode(ctx context.Context, code string) ([]byte, error) {
	query := url.Values{"code": {code}}
	return c.doRequest(ctx, http.MethodGet, "/v1/products", query, nil)
}

// productBody is the upstream product shape; quantity arrives as a float.
type productBody struct {
	ID                string   `json:"id"`
	Code              string   `json:"code"`
	Name              string   `json:"name"`
	AvailableQuantity *float64 `json:"available_quantity"`
	Active            *bool    `json:"active"`
}

func (b *productBody) snapshot() *models.RemoteSnapshot {
	snap := &models.RemoteSnapshot{
		Name: b.Name,
		// Active defaults to true; only an explicit false deactivates.
		IsActive: b.Active == nil || *b.Active,
	}
	if b.AvailableQuantity != nil {
		snap.AvailableQuantity = int(*b.AvailableQuantity)
	}
	return snap
}

// normalizeProduct accepts either a single product object or a
// {"results": [...]} wrapper and reduces both to one snapshot.
func normalizeProduct(data []byte) (*models.RemoteSnapshot, error) {
	var wrapper struct {
		Results *[]productBody `json:"results"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Results != nil {
		if len(*wrapper.Results) == 0 {
			return nil, ErrNotFound
		}
		return (*wrapper.Results)[0].snapshot(), nil
	}

	var single productBody
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("failed to decode product response: %w", err)
	}
	if single.ID == "" && single.Code == "" {
		return nil, ErrNotFound
	}
	return single.snapshot(), nil
}

// FetchCustomer retrieves one customer record for the customer webhook
// handlers.
func (c *Client) FetchCustomer(ctx context.Context, id string) (*models.Customer, error) {
	ctx, span := util.StartSpan(ctx, "erp.FetchCustomer")
	defer span.End()

	body, err := c.doRequest(ctx, http.MethodGet, "/v1/customers/"+url.PathEscape(id), nil, nil)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.status == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var raw struct {
		ID             string   `json:"id"`
		Identification string   `json:"identification"`
		Name           []string `json:"name"`
		Active         *bool    `json:"active"`
		Contacts       []struct {
			Email string `json:"email"`
		} `json:"contacts"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode customer response: %w", err)
	}
	if raw.ID == "" {
		return nil, ErrNotFound
	}

	customer := &models.Customer{
		ExternalID:     raw.ID,
		Identification: raw.Identification,
		Name:           strings.TrimSpace(strings.Join(raw.Name, " ")),
		Active:         raw.Active == nil || *raw.Active,
	}
	if len(raw.Contacts) > 0 {
		customer.Email = raw.Contacts[0].Email
	}
	return customer, nil
}

// Subscribe registers a webhook with the upstream API and returns the
// created subscription.
func (c *Client) Subscribe(ctx context.Context, applicationID, topic, callbackURL string) (*models.WebhookSubscription, error) {
	ctx, span := util.StartSpan(ctx, "erp.Subscribe")
	defer span.End()

	payload := map[string]string{
		"application_id": applicationID,
		"topic":          topic,
		"url":            callbackURL,
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/v1/webhooks", nil, payload)
	if err != nil {
		return nil, fmt.Errorf("webhook subscription for %s failed: %w", topic, err)
	}

	var raw struct {
		ID            string `json:"id"`
		ApplicationID string `json:"application_id"`
		Topic         string `json:"topic"`
		URL           string `json:"url"`
		CompanyKey    string `json:"company_key"`
		Active        bool   `json:"active"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode subscription response: %w", err)
	}

	return &models.WebhookSubscription{
		WebhookID:     raw.ID,
		ApplicationID: raw.ApplicationID,
		Topic:         raw.Topic,
		URL:           raw.URL,
		CompanyKey:    raw.CompanyKey,
		Active:        raw.Active,
	}, nil
}

// doRequest performs one upstream call through the concurrency semaphore,
// the rate controller, and the retry-with-backoff wrapper. 400 and 404 are
// returned immediately as statusError for the caller's fallback logic; 429,
// 401, 5xx and network failures are retried up to maxRetries.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload interface{}) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		body, err := c.doOnce(ctx, method, path, query, payload)
		if err == nil {
			c.rate.ObserveSuccess()
			util.RemoteRequestsTotal.WithLabelValues("success").Inc()
			return body, nil
		}
		lastErr = err

		var se *statusError
		if errors.As(err, &se) {
			switch {
			case se.status == http.StatusBadRequest || se.status == http.StatusNotFound:
				util.RemoteRequestsTotal.WithLabelValues("client_error").Inc()
				return nil, err

			case se.status == http.StatusTooManyRequests:
				util.RemoteRateLimitHitsTotal.Inc()
				delay := rateLimitBackoff(attempt, se.retryAfter)
				c.rate.ObserveRateLimit(delay)
				c.logger.Warn("Rate limited by upstream, backing off",
					zap.Int("attempt", attempt),
					zap.Duration("delay", delay))
				if err := sleepCtx(ctx, delay); err != nil {
					return nil, err
				}
				continue

			case se.status == http.StatusUnauthorized:
				c.logger.Info("Upstream token rejected, refreshing credentials")
				c.creds.Invalidate()
				continue
			}
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Transient 5xx or network failure.
		util.RemoteRequestsTotal.WithLabelValues("transient_error").Inc()
		if attempt < c.maxRetries {
			delay := time.Duration(1<<uint(attempt)) * time.Second
			c.logger.Warn("Transient upstream failure, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("upstream request failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, payload interface{}) ([]byte, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.sem }()

	if err := c.rate.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain credentials: %w", err)
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = strings.NewReader(string(b))
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Partner-Id", c.partnerID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	util.RemoteRequestLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return io.ReadAll(resp.Body)
	}

	se := &statusError{status: resp.StatusCode}
	if resp.StatusCode == http.StatusTooManyRequests {
		se.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return nil, se
}

func rateLimitBackoff(attempt int, retryAfter time.Duration) time.Duration {
	delay := time.Duration(1<<uint(attempt)) * 2 * time.Second
	if retryAfter > delay {
		delay = retryAfter
	}
	return delay
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms; an
// unparseable date falls back to a safe minimum.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 5 * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
