package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const localNetworkLabel = "Local Network"

// Resolver turns an IP address into a coarse human-readable location.
// Lookups are best effort: private addresses map to a fixed label and any
// failure degrades to nil, never an error surfaced to the caller.
type Resolver interface {
	Locate(ctx context.Context, ip string) *string
}

type HTTPResolver struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPResolver(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPResolver {
	if baseURL == "" {
		baseURL = "https://ipapi.co"
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPResolver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type lookupResponse struct {
	City        string `json:"city"`
	CountryName string `json:"country_name"`
}

func (r *HTTPResolver) Locate(ctx context.Context, ip string) *string {
	if isPrivate(ip) {
		label := localNetworkLabel
		return &label
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/json/", r.baseURL, ip), nil)
	if err != nil {
		return nil
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("geo lookup failed", "ip", ip, "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil
	}
	switch {
	case body.City != "" && body.CountryName != "":
		out := body.City + ", " + body.CountryName
		return &out
	case body.CountryName != "":
		out := body.CountryName
		return &out
	default:
		return nil
	}
}

func isPrivate(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast() || parsed.IsUnspecified()
}

// NoopResolver is used when outbound lookups are disabled; private addresses
// still get the local-network label.
type NoopResolver struct{}

func (NoopResolver) Locate(_ context.Context, ip string) *string {
	if isPrivate(ip) {
		label := localNetworkLabel
		return &label
	}
	return nil
}
