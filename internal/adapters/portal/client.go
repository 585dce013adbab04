// Package portal is the thin HTTP client for the services the call layer
// consumes but does not implement: the message-thread backend and the
// identity lookup.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dchudnov/campuscall/internal/domain"
)

// Client implements core.MessagingService and core.IdentityService against
// the portal's REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// PostThreadEntry appends one entry to the direct-message thread with peer.
func (c *Client) PostThreadEntry(ctx context.Context, peer domain.UserID, entry domain.TranscriptEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}

	u := fmt.Sprintf("%s/api/threads/%s/entries", c.baseURL, url.PathEscape(string(peer)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post thread entry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post thread entry: unexpected status %d", resp.StatusCode)
	}
	log.Debug().Str("module", "portal").Str("peer", string(peer)).Msg("transcript entry posted")
	return nil
}

// CurrentUserID resolves the authenticated user behind the bearer token.
func (c *Client) CurrentUserID(ctx context.Context) (domain.UserID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/me", nil)
	if err != nil {
		return "", err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("whoami: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whoami: unexpected status %d", resp.StatusCode)
	}
	var me struct {
		ID domain.UserID `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return "", fmt.Errorf("whoami: decode: %w", err)
	}
	return me.ID, nil
}
