// Package feed reads the festival's ticket status file, the single source the availability monitor
// and the poll-and-grab jobs watch for a screening flipping to available.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/RezaEskandarii/ticketfire/internal/observability"
	"github.com/RezaEskandarii/ticketfire/types"
	"github.com/RezaEskandarii/ticketfire/types/config"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 8 << 20

type TicketFeed struct {
	client  *http.Client
	url     string
	timeout time.Duration
	limiter *rate.Limiter
	group   singleflight.Group
	logger  *zap.Logger
}

func NewTicketFeed(cfg config.FeedConfig, logger *zap.Logger) (*TicketFeed, error) {
	target, err := url.JoinPath(cfg.BaseURL, cfg.StatusPath)
	if err != nil {
		return nil, fmt.Errorf("feed url: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultFeedTimeout
	}

	return &TicketFeed{
		client:  &http.Client{Timeout: timeout, Transport: transport},
		url:     target,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1)),
		logger:  logger,
	}, nil
}

// FetchStatus returns the current state of every screening in the feed, keyed by screening id.
// Concurrent callers share one request, which is bounded by the feed timeout rather than by any one
// caller's ctx. A caller whose ctx ends stops waiting without aborting the request for the others.
// Failures are logged and yield an empty map.
func (f *TicketFeed) FetchStatus(ctx context.Context) map[string]types.AvailabilityInfo {
	ch := f.group.DoChan("status", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()
		return f.fetch(fetchCtx)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		observability.FeedFetchesTotal.WithLabelValues("abandoned").Inc()
		return map[string]types.AvailabilityInfo{}
	case res = <-ch:
	}
	if res.Err != nil {
		observability.FeedFetchesTotal.WithLabelValues("error").Inc()
		f.logger.Warn("ticket status fetch failed", zap.String("url", f.url), zap.Error(res.Err))
		return map[string]types.AvailabilityInfo{}
	}
	observability.FeedFetchesTotal.WithLabelValues("ok").Inc()

	shared := res.Val.(map[string]types.AvailabilityInfo)
	out := make(map[string]types.AvailabilityInfo, len(shared))
	for k, info := range shared {
		out[k] = info
	}
	return out
}

func (f *TicketFeed) fetch(ctx context.Context) (map[string]types.AvailabilityInfo, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, text/javascript, */*")
	req.Header.Set("Cache-Control", "no-cache")
	// defeat intermediary caches so a flip is seen on the next poll
	q := req.URL.Query()
	q.Set("_", fmt.Sprint(time.Now().UnixMilli()))
	req.URL.RawQuery = q.Encode()

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return ParseStatus(body)
}

type ticketRecord struct {
	ExtIDScreening string  `json:"extIdScreening"`
	State          string  `json:"state"`
	Text           string  `json:"text"`
	URL            *string `json:"url"`
}

// ParseStatus decodes the feed body. Entries live under a "tickets" object, or the body itself is
// the map. Values that are not objects are skipped.
func ParseStatus(body []byte) (map[string]types.AvailabilityInfo, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse ticket status: %w", err)
	}
	entries := envelope
	if raw, ok := envelope["tickets"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(raw, &nested); err == nil {
			entries = nested
		}
	}

	out := make(map[string]types.AvailabilityInfo, len(entries))
	for key, raw := range entries {
		var rec ticketRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		id := rec.ExtIDScreening
		if id == "" {
			id = key
		}
		info := types.AvailabilityInfo{
			ScreeningID: id,
			State:       normalizeState(rec.State),
			Text:        rec.Text,
		}
		if rec.URL != nil && *rec.URL != "" {
			info.URL = types.StringPtr(*rec.URL)
		}
		out[id] = info
	}
	return out, nil
}

func normalizeState(raw string) types.TicketState {
	switch s := types.TicketState(strings.ToLower(strings.TrimSpace(raw))); s {
	case types.TicketAvailable, types.TicketPending, types.TicketSoldOut:
		return s
	case "soldout", "sold-out":
		return types.TicketSoldOut
	}
	return types.TicketUnknown
}
