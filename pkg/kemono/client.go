package kemono

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	errs "partysync/pkg/errors"
	"partysync/pkg/logger"
	"partysync/pkg/ratelimit"
	"partysync/pkg/retry"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

// FailureRecorder receives every request that failed for good
type FailureRecorder interface {
	Append(url string, cause error) error
}

// Options configures a Client
type Options struct {
	Source          string
	BaseURL         string
	FallbackBaseURL string
	// Timeout bounds one attempt. For streamed bodies it bounds the wait
	// for headers and then every gap between reads.
	Timeout   time.Duration
	UserAgent string
	// Session is the value of the "session" cookie, empty when anonymous
	Session  string
	Limiter  ratelimit.Limiter
	Retry    *retry.Config
	Failures FailureRecorder
	Logger   logger.Logger
}

// FetchOptions selects how a single request is made
type FetchOptions struct {
	// Stream hands the body to the caller unread
	Stream bool
	// Fallback retries the whole budget once against the fallback host
	Fallback bool
}

// Client talks to one kemono-compatible source
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	source     string
	baseURL    string
	fallback   string
	session    string
	timeout    time.Duration
	limiter    ratelimit.Limiter
	retry      *retry.Config
	failures   FailureRecorder
	logger     logger.Logger
}

// NewClient creates a new API client
func NewClient(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	rc := opts.Retry
	if rc == nil {
		rc = &retry.Config{MaxAttempts: 5, Backoff: retry.DefaultExponentialBackoff()}
	}
	if rc.Logger == nil {
		cp := *rc
		cp.Logger = log
		rc = &cp
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &Client{
		httpClient: &http.Client{Transport: transport},
		headers: map[string]string{
			"User-Agent":      ua,
			"Accept":          "application/json, */*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
		},
		source:   opts.Source,
		baseURL:  opts.BaseURL,
		fallback: opts.FallbackBaseURL,
		session:  opts.Session,
		timeout:  timeout,
		limiter:  opts.Limiter,
		retry:    rc,
		failures: opts.Failures,
		logger:   log.WithField("source", opts.Source),
	}
}

// Source returns the configured source name
func (c *Client) Source() string { return c.source }

// BaseURL returns the primary host
func (c *Client) BaseURL() string { return c.baseURL }

// Authenticated reports whether a session cookie is configured
func (c *Client) Authenticated() bool { return c.session != "" }

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// Fetch performs a GET with retries, rate limiting and optional host
// fallback. Without Stream the body has already been read in full when
// Fetch returns. The caller closes the body.
func (c *Client) Fetch(ctx context.Context, url string, opts FetchOptions) (*http.Response, error) {
	return c.run(ctx, url, opts, nil)
}

// GetJSON fetches url and decodes the body into target. Malformed bodies
// count as failed attempts.
func (c *Client) GetJSON(ctx context.Context, url string, opts FetchOptions, target interface{}) error {
	opts.Stream = false
	resp, err := c.run(ctx, url, opts, target)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) run(ctx context.Context, url string, opts FetchOptions, target interface{}) (*http.Response, error) {
	resp, err := c.withRetry(ctx, url, opts, target)
	if err == nil {
		return resp, nil
	}

	failedURL := url
	if opts.Fallback && ctx.Err() == nil {
		if alt, ok := swapHost(url, c.baseURL, c.fallback); ok {
			c.logger.WarnWithFields("retrying with fallback host", map[string]interface{}{
				"url":      url,
				"fallback": alt,
				"error":    err.Error(),
			})
			resp, err = c.withRetry(ctx, alt, opts, target)
			if err == nil {
				return resp, nil
			}
			failedURL = alt
		}
	}

	if ctx.Err() != nil {
		return nil, err
	}

	c.logger.ErrorWithFields("request failed", map[string]interface{}{
		"url":   failedURL,
		"error": err.Error(),
	})
	if c.failures != nil {
		if lerr := c.failures.Append(failedURL, err); lerr != nil {
			c.logger.WithError(lerr).Warn("failed to write error log")
		}
	}
	return nil, err
}

func (c *Client) withRetry(ctx context.Context, url string, opts FetchOptions, target interface{}) (*http.Response, error) {
	return retry.DoWithResult(ctx, func(ctx context.Context) (*http.Response, error) {
		return c.attempt(ctx, url, opts.Stream, target)
	}, c.retry)
}

func (c *Client) attempt(ctx context.Context, url string, stream bool, target interface{}) (*http.Response, error) {
	if c.limiter != nil {
		waitStart := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if waited := time.Since(waitStart); waited > time.Second {
			logger.LogRateLimit(c.logger, url, waited)
		}
	}

	// Streams are bounded per read instead of as a whole; see idleBody.
	// cancel is handed to the body on success and called here otherwise.
	var (
		reqCtx context.Context
		cancel context.CancelFunc
	)
	if stream {
		reqCtx, cancel = context.WithCancel(ctx)
	} else {
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	handedOff := false
	defer func() {
		if !handedOff {
			cancel()
		}
	}()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnknown, 0, "failed to create request: %v", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: "session", Value: c.session})
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyTransportError(err)
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"url":      url,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	})

	if apiErr := errs.FromStatus(resp.StatusCode); apiErr != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, apiErr
	}

	if stream {
		resp.Body = newIdleBody(resp.Body, c.timeout, cancel)
		handedOff = true
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.New(errs.ErrorTypeNetwork, resp.StatusCode, "failed to read response body: %v", err)
	}

	if target != nil {
		if err := json.Unmarshal(body, target); err != nil {
			preview := string(body)
			if len(preview) > 200 {
				preview = preview[:200] + "..."
			}
			c.logger.WarnWithFields("failed to parse JSON response", map[string]interface{}{
				"url":          url,
				"error":        err.Error(),
				"body_preview": preview,
			})
			return nil, errs.New(errs.ErrorTypeParsing, resp.StatusCode, "failed to parse JSON: %v", err)
		}
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.New(errs.ErrorTypeNetwork, 0, "request timed out: %v", err)
	}
	return errs.New(errs.ErrorTypeNetwork, 0, "network error: %v", err)
}

// FetchPosts returns one listing page of a creator. Listings never use the
// fallback host.
func (c *Client) FetchPosts(ctx context.Context, creator Creator, offset int) ([]Post, error) {
	var posts []Post
	url := ListingURL(c.baseURL, creator.Service, string(creator.ID), offset)
	if err := c.GetJSON(ctx, url, FetchOptions{}, &posts); err != nil {
		return nil, fmt.Errorf("failed to fetch posts of %s at offset %d: %w", creator.Key(), offset, err)
	}
	return posts, nil
}

// FetchChannelPage returns the messages of a channel after skip
func (c *Client) FetchChannelPage(ctx context.Context, channelID string, skip int) ([]Post, error) {
	var posts []Post
	url := ChannelURL(c.baseURL, channelID, skip)
	if err := c.GetJSON(ctx, url, FetchOptions{}, &posts); err != nil {
		return nil, fmt.Errorf("failed to fetch channel %s at skip %d: %w", channelID, skip, err)
	}
	return posts, nil
}

// ListChannels resolves a discord server into its channels
func (c *Client) ListChannels(ctx context.Context, serverID string) ([]Channel, error) {
	var channels []Channel
	url := ChannelLookupURL(c.baseURL, serverID)
	if err := c.GetJSON(ctx, url, FetchOptions{Fallback: true}, &channels); err != nil {
		return nil, fmt.Errorf("failed to list channels of server %s: %w", serverID, err)
	}
	return channels, nil
}

// FetchFavorites returns the authenticated roster
func (c *Client) FetchFavorites(ctx context.Context) ([]Creator, error) {
	if !c.Authenticated() {
		return nil, errs.New(errs.ErrorTypeAuth, 0, "no session configured for %s", c.source)
	}

	var creators []Creator
	if err := c.GetJSON(ctx, FavoritesURL(c.baseURL), FetchOptions{Fallback: true}, &creators); err != nil {
		return nil, fmt.Errorf("failed to fetch favorites: %w", err)
	}

	c.logger.DebugWithFields("fetched favorites", map[string]interface{}{
		"count": len(creators),
	})
	return creators, nil
}

// FetchProfile looks up a single creator
func (c *Client) FetchProfile(ctx context.Context, service, id string) (*Profile, error) {
	var profile Profile
	if err := c.GetJSON(ctx, ProfileURL(c.baseURL, service, id), FetchOptions{Fallback: true}, &profile); err != nil {
		return nil, fmt.Errorf("failed to fetch profile %s:%s: %w", service, id, err)
	}
	if profile.Service == "" {
		profile.Service = service
	}
	if profile.ID == "" {
		profile.ID = Text(id)
	}
	return &profile, nil
}

// OpenFile starts streaming an attachment. The fallback host is used when
// the primary one keeps failing.
func (c *Client) OpenFile(ctx context.Context, path string) (*http.Response, error) {
	return c.Fetch(ctx, FileURL(c.baseURL, path), FetchOptions{Stream: true, Fallback: true})
}
