package timesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/beevik/ntp"
	"go.uber.org/zap"
)

// Provider measures how far the local clock is behind a reference clock.
type Provider interface {
	Name() string
	Offset(ctx context.Context) (time.Duration, error)
}

var DefaultNTPServers = []string{
	"time.google.com",
	"time.cloudflare.com",
	"ptbtime1.ptb.de",
	"pool.ntp.org",
}

type NTPProvider struct {
	servers []string
	timeout time.Duration
	query   func(host string, opts ntp.QueryOptions) (*ntp.Response, error)
	logger  *zap.Logger
}

func NewNTPProvider(servers []string, timeout time.Duration, logger *zap.Logger) *NTPProvider {
	if len(servers) == 0 {
		servers = DefaultNTPServers
	}
	return &NTPProvider{
		servers: servers,
		timeout: timeout,
		query:   ntp.QueryWithOptions,
		logger:  logger,
	}
}

func (p *NTPProvider) Name() string { return "ntp" }

// Offset asks each server in turn and returns the first valid answer.
func (p *NTPProvider) Offset(ctx context.Context) (time.Duration, error) {
	var errs []error
	for _, server := range p.servers {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		resp, err := p.query(server, ntp.QueryOptions{Timeout: p.timeout, Version: 3})
		if err == nil {
			err = resp.Validate()
		}
		if err != nil {
			p.logger.Debug("ntp server failed", zap.String("server", server), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		p.logger.Info("ntp sync",
			zap.String("server", server),
			zap.Duration("offset", resp.ClockOffset),
			zap.Duration("rtt", resp.RTT),
			zap.Uint8("stratum", resp.Stratum),
		)
		return resp.ClockOffset, nil
	}
	return 0, fmt.Errorf("all ntp servers failed: %w", errors.Join(errs...))
}

// TimeAPI is a JSON endpoint reporting the current time in Field.
type TimeAPI struct {
	URL   string
	Field string
}

var DefaultTimeAPIs = []TimeAPI{
	{URL: "https://timeapi.io/api/time/current/zone?timeZone=UTC", Field: "dateTime"},
	{URL: "https://worldtimeapi.org/api/timezone/Etc/UTC", Field: "datetime"},
}

// HTTPProvider reads the time from public JSON APIs. It works through any HTTP proxy, where NTP
// does not.
type HTTPProvider struct {
	client *http.Client
	apis   []TimeAPI
	logger *zap.Logger
}

func NewHTTPProvider(apis []TimeAPI, timeout time.Duration, proxyURL string, logger *zap.Logger) (*HTTPProvider, error) {
	if len(apis) == 0 {
		apis = DefaultTimeAPIs
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		proxy, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	return &HTTPProvider{
		client: &http.Client{Timeout: timeout, Transport: transport},
		apis:   apis,
		logger: logger,
	}, nil
}

func (p *HTTPProvider) Name() string { return "http" }

func (p *HTTPProvider) Offset(ctx context.Context) (time.Duration, error) {
	var errs []error
	for _, api := range p.apis {
		offset, rtt, err := p.query(ctx, api)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			p.logger.Debug("time api failed", zap.String("url", api.URL), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", api.URL, err))
			continue
		}
		p.logger.Info("http time sync", zap.String("url", api.URL), zap.Duration("offset", offset), zap.Duration("rtt", rtt))
		return offset, nil
	}
	return 0, fmt.Errorf("all time apis failed: %w", errors.Join(errs...))
}

// query compares the remote time with the local midpoint of the request's round trip.
func (p *HTTPProvider) query(ctx context.Context, api TimeAPI) (time.Duration, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.URL, nil)
	if err != nil {
		return 0, 0, err
	}
	before := time.Now()
	resp, err := p.client.Do(req)
	after := time.Now()
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return 0, 0, err
	}
	raw, ok := payload[api.Field].(string)
	if !ok {
		return 0, 0, fmt.Errorf("field %q missing", api.Field)
	}
	remote, err := parseRemoteTime(raw)
	if err != nil {
		return 0, 0, err
	}
	rtt := after.Sub(before)
	mid := before.Add(rtt / 2)
	return remote.Sub(mid), rtt, nil
}

// parseRemoteTime accepts RFC 3339 and offset-less timestamps, the latter read as UTC.
func parseRemoteTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05.999999999", raw, time.UTC)
}
