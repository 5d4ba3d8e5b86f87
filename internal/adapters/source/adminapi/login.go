package adminapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/vshulcz/synapse-stats-exporter/internal/domain"
	"github.com/vshulcz/synapse-stats-exporter/internal/misc"
)

type loginIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

type loginRequest struct {
	Type       string          `json:"type"`
	Identifier loginIdentifier `json:"identifier"`
	User       string          `json:"user"`
	Password   string          `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

// Login exchanges a password for an access token and keeps it for later
// fetches. Transport failures and 429/502/503/504 answers are retried.
// The token is never refreshed.
func (c *Client) Login(ctx context.Context, user, password string) (string, error) {
	body, err := json.Marshal(loginRequest{
		Type:       "m.login.password",
		Identifier: loginIdentifier{Type: "m.id.user", User: user},
		User:       user,
		Password:   password,
	})
	if err != nil {
		return "", fmt.Errorf("marshal login: %w", err)
	}

	var out loginResponse
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, loginAttemptTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.endpoint(loginPath, ""), bytes.NewReader(body))
		if err != nil {
			return &domain.FetchError{Kind: domain.ErrProtocol, Op: "login", Endpoint: loginPath, Err: fmt.Errorf("new request: %w", err)}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", UserAgent)

		out = loginResponse{}
		return c.do(req, "login", loginPath, &out)
	}
	if err := misc.Retry(ctx, c.backoff, isRetryableHTTP, op); err != nil {
		var fe *domain.FetchError
		if errors.As(err, &fe) {
			return "", err
		}
		return "", &domain.FetchError{Kind: domain.ErrTransport, Op: "login", Endpoint: loginPath, Err: err}
	}
	if out.AccessToken == "" {
		return "", &domain.FetchError{
			Kind: domain.ErrProtocol, Op: "login", Endpoint: loginPath,
			Err: errors.New("missing field \"access_token\""),
		}
	}

	c.token = out.AccessToken
	return out.AccessToken, nil
}
