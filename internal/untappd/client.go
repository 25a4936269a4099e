// Package untappd is a minimal client for the Untappd v4 API.
package untappd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	// DefaultEndpoint is the Untappd v4 API root.
	DefaultEndpoint = "https://api.untappd.com/v4/"
	// DefaultAuthorizeURL exchanges an OAuth code for an access token.
	DefaultAuthorizeURL = "https://untappd.com/oauth/authorize/"

	defaultTimeout        = 15 * time.Second
	defaultInitialBackoff = 500 * time.Millisecond
	userAgent             = "meadstats"
	maxErrorBodyBytes     = 512
)

var (
	// ErrMalformedPayload indicates a response missing a required field.
	ErrMalformedPayload = errors.New("untappd: malformed payload")
	// ErrInvalidConfig indicates the client cannot be constructed from the provided configuration.
	ErrInvalidConfig = errors.New("untappd: invalid client config")
	// ErrMissingUsername indicates a user scoped call without a user name.
	ErrMissingUsername = errors.New("untappd: username is required")
	// ErrMissingCode indicates an authorization exchange without a code.
	ErrMissingCode = errors.New("untappd: authorization code is required")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Method     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("untappd: %s returned status %d", e.Method, e.StatusCode)
}

// Temporary reports whether the request may succeed when retried.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

func malformed(field string) error {
	return fmt.Errorf("%w: missing %s", ErrMalformedPayload, field)
}

// Config bundles the settings required to construct a Client.
type Config struct {
	ClientID       string
	ClientSecret   string
	Endpoint       string
	AuthorizeURL   string
	HTTPClient     *http.Client
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	Logger         *zap.Logger
}

// Client performs authenticated GET requests against Untappd.
type Client struct {
	clientID       string
	clientSecret   string
	endpoint       *url.URL
	authorizeURL   *url.URL
	httpClient     *http.Client
	maxRetries     uint64
	initialBackoff time.Duration
	logger         *zap.Logger
}

// NewClient validates cfg and applies defaults.
func NewClient(cfg Config) (*Client, error) {
	endpointValue := strings.TrimSpace(cfg.Endpoint)
	if endpointValue == "" {
		endpointValue = DefaultEndpoint
	}
	if !strings.HasSuffix(endpointValue, "/") {
		endpointValue += "/"
	}
	endpoint, err := url.Parse(endpointValue)
	if err != nil {
		return nil, fmt.Errorf("%w: endpoint: %v", ErrInvalidConfig, err)
	}

	authorizeValue := strings.TrimSpace(cfg.AuthorizeURL)
	if authorizeValue == "" {
		authorizeValue = DefaultAuthorizeURL
	}
	authorizeURL, err := url.Parse(authorizeValue)
	if err != nil {
		return nil, fmt.Errorf("%w: authorize url: %v", ErrInvalidConfig, err)
	}

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries must not be negative", ErrInvalidConfig)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = defaultInitialBackoff
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		clientID:       strings.TrimSpace(cfg.ClientID),
		clientSecret:   strings.TrimSpace(cfg.ClientSecret),
		endpoint:       endpoint,
		authorizeURL:   authorizeURL,
		httpClient:     httpClient,
		maxRetries:     uint64(cfg.MaxRetries),
		initialBackoff: initialBackoff,
		logger:         logger,
	}, nil
}

// UserInfo fetches the profile of username, or of the token owner when username is empty.
func (c *Client) UserInfo(ctx context.Context, username, accessToken string) (UserProfile, error) {
	method := "user/info"
	if name := strings.TrimSpace(username); name != "" {
		method += "/" + name
	} else if accessToken == "" {
		return UserProfile{}, ErrMissingUsername
	}

	var envelope userInfoEnvelope
	if err := c.get(ctx, method, nil, accessToken, &envelope); err != nil {
		return UserProfile{}, err
	}
	if envelope.Response == nil || envelope.Response.User == nil {
		return UserProfile{}, malformed("response.user")
	}
	profile := *envelope.Response.User
	if err := profile.validate(); err != nil {
		return UserProfile{}, err
	}
	return profile, nil
}

// UserBeers fetches one page of the distinct beers username has checked in.
func (c *Client) UserBeers(ctx context.Context, username string, offset, limit int, accessToken string) (BeerPage, error) {
	name := strings.TrimSpace(username)
	if name == "" {
		return BeerPage{}, ErrMissingUsername
	}

	var envelope userBeersEnvelope
	if err := c.get(ctx, "user/beers/"+name, pageQuery(offset, limit), accessToken, &envelope); err != nil {
		return BeerPage{}, err
	}
	if envelope.Response == nil || envelope.Response.Beers == nil {
		return BeerPage{}, malformed("response.beers")
	}
	page := *envelope.Response.Beers
	for index := range page.Items {
		if err := page.Items[index].normalize(index); err != nil {
			return BeerPage{}, err
		}
	}
	return page, nil
}

// UserFriends fetches one page of username's friends.
func (c *Client) UserFriends(ctx context.Context, username string, offset, limit int, accessToken string) (FriendPage, error) {
	name := strings.TrimSpace(username)
	if name == "" {
		return FriendPage{}, ErrMissingUsername
	}

	var envelope userFriendsEnvelope
	if err := c.get(ctx, "user/friends/"+name, pageQuery(offset, limit), accessToken, &envelope); err != nil {
		return FriendPage{}, err
	}
	if envelope.Response == nil {
		return FriendPage{}, malformed("response")
	}
	page := *envelope.Response
	for index, item := range page.Items {
		if err := item.validate(index); err != nil {
			return FriendPage{}, err
		}
	}
	return page, nil
}

// Authenticate exchanges an OAuth code for the user's access token.
func (c *Client) Authenticate(ctx context.Context, code, redirectURL string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", ErrMissingCode
	}
	query := url.Values{}
	query.Set("client_id", c.clientID)
	query.Set("client_secret", c.clientSecret)
	query.Set("response_type", "code")
	query.Set("redirect_url", redirectURL)
	query.Set("code", code)

	target := *c.authorizeURL
	target.RawQuery = query.Encode()

	var envelope authorizeEnvelope
	if err := c.fetch(ctx, "oauth/authorize", target.String(), &envelope); err != nil {
		return "", err
	}
	if envelope.Response == nil || strings.TrimSpace(envelope.Response.AccessToken) == "" {
		return "", malformed("response.access_token")
	}
	return envelope.Response.AccessToken, nil
}

func pageQuery(offset, limit int) url.Values {
	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))
	return query
}

func (c *Client) get(ctx context.Context, method string, query url.Values, accessToken string, target any) error {
	if query == nil {
		query = url.Values{}
	}
	if accessToken != "" {
		query.Set("access_token", accessToken)
	} else {
		query.Set("client_id", c.clientID)
		query.Set("client_secret", c.clientSecret)
	}

	resolved := c.endpoint.ResolveReference(&url.URL{Path: method})
	resolved.RawQuery = query.Encode()
	return c.fetch(ctx, method, resolved.String(), target)
}

func (c *Client) fetch(ctx context.Context, method, target string, out any) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	retrying := backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx)

	attempt := func() error {
		err := c.fetchOnce(ctx, method, target, out)
		if err == nil || isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("untappd request failed, retrying",
			zap.String("method", method),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	return backoff.RetryNotify(attempt, retrying, notify)
}

func (c *Client) fetchOnce(ctx context.Context, method, target string, out any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	request.Header.Set("User-Agent", userAgent)
	request.Header.Set("Accept", "application/json")

	c.logger.Debug("untappd request", zap.String("method", method))
	response, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	c.logger.Debug("untappd response", zap.String("method", method), zap.Int("status", response.StatusCode))

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return &StatusError{Method: method, StatusCode: response.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, method, err)
	}
	return nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	if errors.Is(err, ErrMalformedPayload) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
