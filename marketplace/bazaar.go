// Package marketplace announces paid endpoints to an x402 Bazaar registry so
// buyers can discover them. Registration is best-effort: a failed
// announcement is logged and never blocks startup.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vitwit/x402-paywall/logger"
)

// Listing is one endpoint advertisement.
type Listing struct {
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	Price       string   `json:"price"`
	Currency    string   `json:"currency"`
	Network     string   `json:"network"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Protocol    string   `json:"protocol"`
}

// Client talks to a Bazaar registry.
type Client struct {
	registryURL string
	httpClient  *http.Client
	log         logger.Logger
}

// NewClient creates a registry client. registryURL may be empty, in which
// case Announce is a logged no-op.
func NewClient(registryURL string, log logger.Logger) *Client {
	return &Client{
		registryURL: strings.TrimRight(registryURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: logger.OrNoop(log),
	}
}

// Register submits a single listing via POST /api/register.
func (c *Client) Register(ctx context.Context, listing Listing) error {
	body, err := json.Marshal(listing)
	if err != nil {
		return fmt.Errorf("failed to marshal listing: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.registryURL+"/api/register", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("registry returned status %d: %s", resp.StatusCode, string(respBody))
	}

	c.log.Info("registered on marketplace", map[string]any{
		"name":   listing.Name,
		"status": resp.StatusCode,
	})
	return nil
}

// Announce registers every listing, continuing past individual failures.
func (c *Client) Announce(ctx context.Context, listings []Listing) {
	if c.registryURL == "" {
		c.log.Warn("marketplace registration skipped: registry URL not set", nil)
		return
	}
	for _, listing := range listings {
		if err := c.Register(ctx, listing); err != nil {
			c.log.Warn("failed to register on marketplace", map[string]any{
				"name":  listing.Name,
				"error": err.Error(),
			})
		}
	}
}
