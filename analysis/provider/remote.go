package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/theimaginaryfoundation/vibe-o-meter/analysis"
	"github.com/theimaginaryfoundation/vibe-o-meter/analysis/fileutils"
)

const maxRemoteResponseBytes = 1 << 20

// RemoteEnhancer posts enhancement requests to a vibe-server style /api/analysis/enhance endpoint.
type RemoteEnhancer struct {
	url     string
	variant analysis.SchemaVariant
	client  *http.Client
}

// NewRemoteEnhancer targets url. A nil client gets a 30s timeout.
func NewRemoteEnhancer(url string, variant analysis.SchemaVariant, client *http.Client) (*RemoteEnhancer, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("NewRemoteEnhancer: url is empty")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if variant == "" {
		variant = analysis.SchemaEffort
	}
	return &RemoteEnhancer{url: url, variant: variant, client: client}, nil
}

type remoteError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (r *RemoteEnhancer) Enhance(ctx context.Context, req analysis.EnhanceRequest) (analysis.Enhancement, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return analysis.Enhancement{}, fmt.Errorf("RemoteEnhancer: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return analysis.Enhancement{}, fmt.Errorf("RemoteEnhancer: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return analysis.Enhancement{}, fmt.Errorf("RemoteEnhancer: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponseBytes))
	if err != nil {
		return analysis.Enhancement{}, fmt.Errorf("RemoteEnhancer: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return analysis.Enhancement{}, fmt.Errorf("RemoteEnhancer: %s: %w", remoteMessage(raw, resp.Status), analysis.ErrUnauthorized)
	case resp.StatusCode == http.StatusTooManyRequests:
		return analysis.Enhancement{}, fmt.Errorf("RemoteEnhancer: %s: %w", remoteMessage(raw, resp.Status), analysis.ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return analysis.Enhancement{}, fmt.Errorf("RemoteEnhancer: status %d: %s", resp.StatusCode, remoteMessage(raw, resp.Status))
	}

	enh, err := analysis.ParseEnhancement(r.variant, string(raw))
	if err != nil {
		return analysis.Enhancement{}, fmt.Errorf("RemoteEnhancer: %w (body_prefix=%q)", err, fileutils.Truncate(string(raw), 300))
	}
	return enh, nil
}

func remoteMessage(raw []byte, fallback string) string {
	var e remoteError
	if err := json.Unmarshal(raw, &e); err == nil && e.Error != "" {
		if e.Message != "" {
			return e.Error + ": " + e.Message
		}
		return e.Error
	}
	return fallback
}
