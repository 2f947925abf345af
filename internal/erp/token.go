package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"stock-reconciler/internal/util"

	"go.uber.org/zap"
)

// Credentials supplies a valid bearer token for the upstream API.
type Credentials interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// tokenRefreshMargin renews the token before the upstream expiry to avoid
// 401s on requests already in flight.
const tokenRefreshMargin = 5 * time.Minute

// TokenProvider exchanges the configured username/access key for a bearer
// token and caches it until near expiry. Safe for concurrent use.
type TokenProvider struct {
	baseURL    string
	username   string
	accessKey  string
	httpClient *http.Client
	logger     *zap.Logger

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewTokenProvider creates a token provider for the upstream auth endpoint.
func NewTokenProvider(baseURL, username, accessKey string, timeout time.Duration) *TokenProvider {
	return &TokenProvider{
		baseURL:    baseURL,
		username:   username,
		accessKey:  accessKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.GetLogger(),
	}
}

// Token returns a cached bearer token, authenticating when the cache is
// empty or within the refresh margin of expiry.
func (tp *TokenProvider) Token(ctx context.Context) (string, error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.token != "" && time.Now().Before(tp.expiry.Add(-tokenRefreshMargin)) {
		return tp.token, nil
	}

	if tp.username == "" || tp.accessKey == "" {
		return "", fmt.Errorf("upstream credentials not configured")
	}

	body, err := json.Marshal(map[string]string{
		"username":   tp.username,
		"access_key": tp.accessKey,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tp.baseURL+"/auth", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tp.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth request failed: status %d", resp.StatusCode)
	}

	var authResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return "", fmt.Errorf("failed to decode auth response: %w", err)
	}
	if authResp.AccessToken == "" {
		return "", fmt.Errorf("auth response carried no token")
	}

	tp.token = authResp.AccessToken
	tp.expiry = time.Now().Add(time.Duration(authResp.ExpiresIn) * time.Second)
	tp.logger.Info("Authenticated with upstream API",
		zap.Time("token_expiry", tp.expiry))

	return tp.token, nil
}

// Invalidate drops the cached token so the next call re-authenticates.
// Called after a 401 from the upstream API.
func (tp *TokenProvider) Invalidate() {
	tp.mu.Lock()
	tp.token = ""
	tp.expiry = time.Time{}
	tp.mu.Unlock()
}
