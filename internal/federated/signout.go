package federated

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SignOuter ends the user's session at the provider.
type SignOuter interface {
	SignOut(ctx context.Context, token string) error
}

// NopSignOuter is used when no provider revocation endpoint is configured.
type NopSignOuter struct{}

func (NopSignOuter) SignOut(context.Context, string) error { return nil }

// RevokeSignOuter posts the token to an OAuth 2.0 revocation endpoint (RFC 7009).
type RevokeSignOuter struct {
	endpoint string
	client   *http.Client
}

func NewRevokeSignOuter(endpoint string, client *http.Client) *RevokeSignOuter {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &RevokeSignOuter{endpoint: endpoint, client: client}
}

func (r *RevokeSignOuter) SignOut(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("federated revoke: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("federated revoke: status %d", resp.StatusCode)
	}
	return nil
}
