// Package adminapi reads homeserver counts through the Synapse admin HTTP API.
package adminapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/vshulcz/synapse-stats-exporter/internal/config"
	"github.com/vshulcz/synapse-stats-exporter/internal/domain"
	"github.com/vshulcz/synapse-stats-exporter/internal/misc"
	"github.com/vshulcz/synapse-stats-exporter/internal/ports"
)

const (
	roomsPath  = "/_synapse/admin/v1/rooms"
	roomsQuery = "dir=f&from=0&limit=10"
	usersPath  = "/_synapse/admin/v2/users"
	usersQuery = "deactivated=false&dir=f&from=0&guests=true&limit=10"
	loginPath  = "/_matrix/client/v3/login"

	defaultTimeout      = 10 * time.Second
	loginAttemptTimeout = 5 * time.Second
	maxBodyBytes        = 1 << 20
)

// UserAgent is sent with every request.
var UserAgent = "synapse-stats-exporter"

var bodyPool = misc.NewBufferPool(64 << 10)

// Client fetches room and user totals with a bearer token.
type Client struct {
	base    *url.URL
	hc      *http.Client
	token   string
	backoff []time.Duration
}

var _ ports.DataSource = (*Client)(nil)

// New normalizes the base address and returns a Client that authenticates with token.
func New(baseURL string, hc *http.Client, token string) (*Client, error) {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	u, err := url.Parse(normalizeBase(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return &Client{
		base:    u,
		hc:      hc,
		token:   strings.TrimSpace(token),
		backoff: misc.LoginBackoff,
	}, nil
}

// Connect builds a Client from cfg. Without an admin token it performs a
// password login first; a failed login is returned as is.
func Connect(ctx context.Context, cfg config.APISourceConfig, hc *http.Client, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := New(cfg.BaseURL, hc, cfg.AdminToken)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		logger.Info("using configured admin token", zap.String("base_url", c.base.String()))
		return c, nil
	}

	logger.Info("no admin token configured, logging in", zap.String("base_url", c.base.String()), zap.String("user", cfg.User))
	if _, err := c.Login(ctx, cfg.User, cfg.Password); err != nil {
		return nil, err
	}
	return c, nil
}

func normalizeBase(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return strings.TrimRight(s, "/")
	}
	return "http://" + strings.TrimRight(s, "/")
}

func (c *Client) endpoint(path, rawQuery string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = rawQuery
	return u.String()
}

type roomsResponse struct {
	TotalRooms *int64 `json:"total_rooms"`
}

type usersResponse struct {
	Total *int64 `json:"total"`
}

// Fetch reads the room total and then the user total. Either failing fails the whole fetch.
func (c *Client) Fetch(ctx context.Context) (domain.Sample, error) {
	var rooms roomsResponse
	if err := c.getJSON(ctx, "count rooms", roomsPath, roomsQuery, &rooms); err != nil {
		return domain.Sample{}, err
	}
	nRooms, err := count(rooms.TotalRooms, "total_rooms", roomsPath)
	if err != nil {
		return domain.Sample{}, err
	}

	var users usersResponse
	if err := c.getJSON(ctx, "count users", usersPath, usersQuery, &users); err != nil {
		return domain.Sample{}, err
	}
	nUsers, err := count(users.Total, "total", usersPath)
	if err != nil {
		return domain.Sample{}, err
	}

	return domain.Sample{Rooms: nRooms, Users: nUsers}, nil
}

// Close releases idle keep-alive connections.
func (c *Client) Close() error {
	c.hc.CloseIdleConnections()
	return nil
}

func count(v *int64, field, path string) (int64, error) {
	if v == nil {
		return 0, &domain.FetchError{
			Kind: domain.ErrProtocol, Op: "decode", Endpoint: path,
			Err: fmt.Errorf("missing field %q", field),
		}
	}
	if *v < 0 {
		return 0, &domain.FetchError{
			Kind: domain.ErrProtocol, Op: "decode", Endpoint: path,
			Err: fmt.Errorf("negative %s: %d", field, *v),
		}
	}
	return *v, nil
}

func (c *Client) getJSON(ctx context.Context, op, path, rawQuery string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, rawQuery), http.NoBody)
	if err != nil {
		return &domain.FetchError{Kind: domain.ErrProtocol, Op: op, Endpoint: path, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.do(req, op, path, out)
}

func (c *Client) do(req *http.Request, op, path string, out any) (retErr error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return &domain.FetchError{Kind: domain.ErrTransport, Op: op, Endpoint: path, Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && retErr == nil {
			retErr = &domain.FetchError{Kind: domain.ErrTransport, Op: op, Endpoint: path, Err: fmt.Errorf("close response body: %w", cerr)}
		}
	}()

	buf := bodyPool.Get()
	defer bodyPool.Put(buf)
	if _, err := io.Copy(buf, io.LimitReader(resp.Body, maxBodyBytes)); err != nil {
		return &domain.FetchError{Kind: domain.ErrTransport, Op: op, Endpoint: path, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if err := checkHTTPStatus(resp); err != nil {
		return &domain.FetchError{Kind: statusKind(resp.StatusCode), Op: op, Endpoint: path, Status: resp.StatusCode, Err: err}
	}
	if err := json.Unmarshal(buf.Bytes(), out); err != nil {
		return &domain.FetchError{Kind: domain.ErrProtocol, Op: op, Endpoint: path, Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

type httpStatusError struct {
	code int
	msg  string
}

func (e *httpStatusError) Error() string {
	return e.msg
}

func checkHTTPStatus(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &httpStatusError{code: resp.StatusCode, msg: fmt.Sprintf("server status: %s", resp.Status)}
	}
	return nil
}

func statusKind(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrAuth
	default:
		return domain.ErrProtocol
	}
}

func isRetryableHTTP(err error) bool {
	if err == nil {
		return false
	}
	var se *httpStatusError
	if errors.As(err, &se) {
		switch se.code {
		case http.StatusBadGateway, http.StatusServiceUnavailable,
			http.StatusGatewayTimeout, http.StatusTooManyRequests:
			return true
		default:
			return false
		}
	}
	return errors.Is(err, domain.ErrTransport)
}
