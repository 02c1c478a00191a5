// Package ocmclient delivers federation payloads to peer servers over
// HTTP. It implements federation.ShareSender and
// federation.NotificationSender.
package ocmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fedcal/fedcal/internal/federation"
	"github.com/fedcal/fedcal/internal/identity"
	"github.com/rs/zerolog/log"
)

// Client posts OCM payloads to a recipient's server.
type Client struct {
	HTTP *http.Client

	// Endpoint maps a peer host to its base URL; injectable so tests can
	// point at an httptest server. Defaults to https://<host>.
	Endpoint func(host string) string
}

// New returns a client with a bounded request timeout.
func New() *Client {
	return &Client{HTTP: &http.Client{Timeout: 30 * time.Second}}
}

func (c *Client) base(host string) string {
	if c.Endpoint != nil {
		return c.Endpoint(host)
	}
	return "https://" + host
}

func (c *Client) post(ctx context.Context, host, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode ocm payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base(host)+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Debug().Str("host", host).Str("path", path).Int("status", resp.StatusCode).Msg("peer rejected ocm payload")
		return &federation.PeerError{Host: host, Status: resp.StatusCode}
	}
	return nil
}

// SendShare delivers a share offer to the recipient's server.
func (c *Client) SendShare(ctx context.Context, recipient identity.CloudID, req federation.ShareRequest) error {
	return c.post(ctx, recipient.Host, "/ocm/shares", req)
}

// SendNotification delivers a notification to the recipient's server.
func (c *Client) SendNotification(ctx context.Context, recipient identity.CloudID, req federation.NotificationRequest) error {
	return c.post(ctx, recipient.Host, "/ocm/notifications", req)
}
