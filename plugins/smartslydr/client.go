package smartslydr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/joshp123/smartslydr/internal/rate"
)

// Client talks to the SmartSlydr cloud API.
//
// The exported operations never panic and never leak a transport failure as
// anything but a return value: Authenticate, RefreshAccessToken, SetPosition and
// CurrentPosition report success as a bool, DeviceList returns a classified *Error.
// Every failure is also logged.
type Client struct {
	baseURL    string
	tokens     *TokenStore
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(cfg Config, tokens *TokenStore) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	cfg = cfg.withDefaults()

	decl := rate.Provider("smartslydr").MaxRequestsPer(rate.Minute, cfg.RateLimitPerMinute)
	httpClient := rate.WrapHTTP(decl, &http.Client{Timeout: cfg.RequestTimeout})

	return &Client{
		baseURL:    cfg.BaseURL,
		tokens:     tokens,
		httpClient: httpClient,
		logger:     log.With().Str("plugin", "smartslydr").Logger(),
	}, nil
}

func (c *Client) Tokens() *TokenStore {
	return c.tokens
}

// Authenticate exchanges the stored credentials for a token pair. No retry.
func (c *Client) Authenticate(ctx context.Context) bool {
	if err := c.authenticate(ctx); err != nil {
		c.logFailure("auth", err)
		return false
	}
	return true
}

func (c *Client) authenticate(ctx context.Context) error {
	c.logger.Debug().Str("op", "auth").Str("username", c.tokens.Username()).Msg("requesting security tokens")

	payload, err := c.do(ctx, "auth", http.MethodPost, "auth", c.tokens.credentials(), false)
	if err != nil {
		return err
	}
	var resp authResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return &Error{Op: "auth", Kind: KindParse, Err: err}
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return &Error{Op: "auth", Kind: KindParse, Err: errors.New("token pair missing from response")}
	}
	c.tokens.SetTokens(resp.AccessToken, resp.RefreshToken)
	return nil
}

// RefreshAccessToken trades the refresh token for a new access token. On
// failure the stale access token stays in place; re-login is the caller's call.
func (c *Client) RefreshAccessToken(ctx context.Context) bool {
	if err := c.refresh(ctx); err != nil {
		c.logFailure("token", err)
		return false
	}
	return true
}

func (c *Client) refresh(ctx context.Context) error {
	payload, err := c.do(ctx, "token", http.MethodPost, "token", refreshRequest{RefreshToken: c.tokens.RefreshToken()}, true)
	if err != nil {
		return err
	}
	var resp refreshResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return &Error{Op: "token", Kind: KindParse, Err: err}
	}
	if resp.AccessToken == "" {
		return &Error{Op: "token", Kind: KindParse, Err: errors.New("access_token missing from response")}
	}
	c.tokens.SetAccessToken(resp.AccessToken)
	return nil
}

// DeviceList refreshes the access token (always, regardless of age) and then
// lists every device across all rooms. Any malformed record fails the whole call.
func (c *Client) DeviceList(ctx context.Context) (Devices, error) {
	c.RefreshAccessToken(ctx)

	payload, err := c.do(ctx, "devices", http.MethodGet, "devices", nil, true)
	if err != nil {
		c.logFailure("devices", err)
		return nil, err
	}
	devices, err := decodeDeviceList(payload)
	if err != nil {
		err = &Error{Op: "devices", Kind: KindParse, Err: err}
		c.logFailure("devices", err)
		return nil, err
	}
	c.logger.Debug().Int("devices", len(devices)).Msg("device list fetched")
	return devices, nil
}

// ValidPosition reports whether SetPosition would send p.
func ValidPosition(p int) bool {
	return (p >= 0 && p <= 100) || p == SentinelPosition
}

// SetPosition sends a position command. Out-of-range values are rejected
// locally without a request. The result only says whether the cloud accepted
// the command; the new position must be observed by polling.
func (c *Client) SetPosition(ctx context.Context, deviceID string, position int) bool {
	if !ValidPosition(position) {
		c.logger.Warn().Str("op", "operation").Str("device_id", deviceID).Int("position", position).Msg("position out of range, command not sent")
		return false
	}

	c.RefreshAccessToken(ctx)

	body := setCommandsRequest{SetCommands: []setCommand{{
		DeviceID: deviceID,
		Commands: []keyedValue{{Key: "position", Value: strconv.Itoa(position)}},
	}}}
	if _, err := c.do(ctx, "operation", http.MethodPost, "operation", body, true); err != nil {
		c.logFailure("operation", err)
		return false
	}
	c.logger.Debug().Str("device_id", deviceID).Int("position", position).Msg("position command accepted")
	return true
}

// CurrentPosition asks the cloud for one device's position.
func (c *Client) CurrentPosition(ctx context.Context, deviceID string) (int, bool) {
	c.RefreshAccessToken(ctx)

	body := queryCommandsRequest{Commands: []queryCommand{{DeviceID: deviceID, Command: "position"}}}
	payload, err := c.do(ctx, "operation/get", http.MethodPost, "operation/get", body, true)
	if err != nil {
		c.logFailure("operation/get", err)
		return 0, false
	}

	var resp queryResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		c.logFailure("operation/get", &Error{Op: "operation/get", Kind: KindParse, Err: err})
		return 0, false
	}
	if len(resp.Response) == 0 || resp.Response[0].Position == nil {
		c.logFailure("operation/get", &Error{Op: "operation/get", Kind: KindParse, Err: errors.New("response[0].position missing")})
		return 0, false
	}
	return int(*resp.Response[0].Position), true
}

// Check probes the configured credentials with a throw-away token store,
// leaving this client's tokens untouched.
func (c *Client) Check(ctx context.Context) bool {
	probe := *c
	probe.tokens = NewTokenStore(c.tokens.username, c.tokens.password)
	return probe.Authenticate(ctx)
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, authorized bool) ([]byte, error) {
	start := time.Now()
	payload, err := c.roundTrip(ctx, op, method, path, body, authorized)
	result := "ok"
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) {
			result = apiErr.Kind.String()
		} else {
			result = "error"
		}
	}
	clientRequests.WithLabelValues(op, result).Inc()
	clientLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return payload, err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body any, authorized bool) ([]byte, error) {
	endpoint := c.baseURL + strings.TrimPrefix(path, "/")

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Op: op, Kind: KindParse, Err: fmt.Errorf("encode body: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindCommunication, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header = newHeaders(body != nil)
	if authorized {
		req.Header.Set("Authorization", c.tokens.AccessToken())
	}

	c.logger.Debug().Str("op", op).Str("method", method).Str("url", endpoint).Msg("smartslydr request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindCommunication, Err: fmt.Errorf("request %s: %w", endpoint, err)}
	}
	defer resp.Body.Close()

	payload, err := readBody(resp)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindCommunication, Status: resp.StatusCode, Err: fmt.Errorf("read %s: %w", endpoint, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Op:     op,
			Kind:   statusKind(op, resp.StatusCode),
			Status: resp.StatusCode,
			Err:    HTTPStatusError{Status: resp.StatusCode, Body: string(payload)},
		}
	}
	return payload, nil
}

// newHeaders builds a fresh header set for one request.
func newHeaders(hasBody bool) http.Header {
	h := http.Header{}
	h.Set("Accept-Encoding", "gzip")
	h.Set("User-Agent", "Mozilla/5.0")
	h.Set("Contenttype", "application/json")
	h.Set("Accept", "*/*")
	if hasBody {
		h.Set("Content-Type", "application/json")
	}
	return h
}

func readBody(resp *http.Response) ([]byte, error) {
	var body io.Reader = resp.Body
	if strings.EqualFold(strings.TrimSpace(resp.Header.Get("Content-Encoding")), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		body = gz
	}
	return io.ReadAll(body)
}

func (c *Client) logFailure(op string, err error) {
	event := c.logger.Error().Err(err).Str("op", op)
	var apiErr *Error
	if errors.As(err, &apiErr) {
		event = event.Str("kind", apiErr.Kind.String())
		if apiErr.Status != 0 {
			event = event.Int("status", apiErr.Status)
		}
	}
	event.Msg("smartslydr request failed")
}
