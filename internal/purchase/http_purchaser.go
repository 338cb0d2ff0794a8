// Package purchase holds the built-in direct-request purchaser. It loads the purchase page, finds the
// add-to-cart endpoint in the markup and posts the ticket quantity to it. Browser automation is an
// injected client.Purchaser and lives outside this module.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/RezaEskandarii/ticketfire/client"
	"github.com/RezaEskandarii/ticketfire/internal/logging"
	"github.com/RezaEskandarii/ticketfire/internal/state"
	"github.com/RezaEskandarii/ticketfire/internal/timing"
	"github.com/RezaEskandarii/ticketfire/types"
	"github.com/RezaEskandarii/ticketfire/types/config"
	"go.uber.org/zap"
)

const (
	maxPageBytes = 4 << 20

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/131.0.0.0 Safari/537.36"
)

// Tried in order; the first match wins.
var cartPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)action="([^"]*(?:cart|warenkorb|basket)[^"]*)"`),
	regexp.MustCompile(`(?i)href="([^"]*(?:addToCart|add-to-cart)[^"]*)"`),
	regexp.MustCompile(`(?i)"(https?://[^"]*(?:cart|warenkorb|basket|checkout)[^"]*)"`),
}

var ErrNoCartEndpoint = errors.New("no purchase endpoint found; page may require JavaScript")

type HTTPPurchaser struct {
	client  *http.Client
	baseURL string
	logger  *zap.Logger

	// newSampler builds the per-attempt pacing source.
	newSampler func() *timing.Sampler
}

var (
	_ client.Purchaser = (*HTTPPurchaser)(nil)
	_ client.Preheater = (*HTTPPurchaser)(nil)
)

func NewHTTPPurchaser(cfg config.PurchaseConfig, logger *zap.Logger) (*HTTPPurchaser, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &HTTPPurchaser{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			Jar:       jar,
			// The cart answers a successful POST with a redirect; report that instead of following it.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > 0 && via[0].Method == http.MethodPost {
					return http.ErrUseLastResponse
				}
				if len(via) >= 10 {
					return errors.New("stopped after 10 redirects")
				}
				return nil
			},
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		logger:     logging.OrNop(logger),
		newSampler: func() *timing.Sampler { return timing.NewSampler(timing.DefaultPageWaitVariance) },
	}, nil
}

// Attempt loads the purchase page and posts to its cart endpoint.
func (p *HTTPPurchaser) Attempt(ctx context.Context, task types.Task, report client.StatusFunc) types.AttemptResult {
	if report == nil {
		report = client.NoopStatus
	}
	if !task.HasPurchaseURL() {
		return types.AttemptResult{Message: "No purchase URL"}
	}
	report(state.StatusGrabbing, "Sending HTTP request to ticket shop...")
	cartURL, err := p.discoverCart(ctx, task.URL())
	if err != nil {
		report(state.StatusFailed, err.Error())
		return types.AttemptResult{Message: err.Error()}
	}
	// reading the page before pressing buy
	if err := pause(ctx, p.newSampler().SampleUIDelay()); err != nil {
		return types.AttemptResult{Message: "Purchase interrupted: " + err.Error()}
	}
	return p.addToCart(ctx, task, cartURL, report)
}

type pageHandle struct {
	mu      sync.Mutex
	pageURL string
	cartURL string
	closed  bool
}

func (h *pageHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *pageHandle) cart() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cartURL, !h.closed
}

// Preheat loads the purchase page ahead of the sale. That leaves a warm connection in the pool and
// any session cookies in the jar. The cart endpoint, when the page already shows one, is remembered
// as a fallback for the attempt.
func (p *HTTPPurchaser) Preheat(ctx context.Context, task types.Task) (client.PageHandle, error) {
	if !task.HasPurchaseURL() {
		return nil, errors.New("no purchase URL")
	}
	h := &pageHandle{pageURL: task.URL()}
	cartURL, err := p.discoverCart(ctx, task.URL())
	switch {
	case err == nil:
		h.cartURL = cartURL
	case errors.Is(err, ErrNoCartEndpoint):
		// sale not open yet; the page normally gains its cart form at sale time
	default:
		return nil, err
	}
	p.logger.Info("purchase page preheated", zap.String("task_id", task.ID), zap.Bool("cart_known", h.cartURL != ""))
	return h, nil
}

// AttemptWithHandle refreshes the pre-opened page and buys from it.
func (p *HTTPPurchaser) AttemptWithHandle(ctx context.Context, handle client.PageHandle, task types.Task, report client.StatusFunc) types.AttemptResult {
	h, ok := handle.(*pageHandle)
	if !ok {
		return p.Attempt(ctx, task, report)
	}
	if report == nil {
		report = client.NoopStatus
	}
	cached, open := h.cart()
	if !open {
		return p.Attempt(ctx, task, report)
	}

	report(state.StatusGrabbing, "Refreshing purchase page...")
	cartURL, err := p.discoverCart(ctx, h.pageURL)
	if err != nil {
		if cached == "" {
			report(state.StatusFailed, err.Error())
			return types.AttemptResult{Message: err.Error()}
		}
		p.logger.Debug("refresh failed, using cart endpoint from warm-up", zap.String("task_id", task.ID), zap.Error(err))
		cartURL = cached
	}
	// the page is already open, so only the click remains
	if err := pause(ctx, p.newSampler().SampleClickDelay(timing.ClickRacing)); err != nil {
		return types.AttemptResult{Message: "Purchase interrupted: " + err.Error()}
	}
	return p.addToCart(ctx, task, cartURL, report)
}

func (p *HTTPPurchaser) discoverCart(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	setBrowserHeaders(req)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d from purchase page", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	cartURL, ok := FindCartURL(string(body), p.baseURL)
	if !ok {
		return "", ErrNoCartEndpoint
	}
	return cartURL, nil
}

func (p *HTTPPurchaser) addToCart(ctx context.Context, task types.Task, cartURL string, report client.StatusFunc) types.AttemptResult {
	report(state.StatusGrabbing, "Found cart URL, adding ticket...")
	form := url.Values{}
	form.Set("quantity", strconv.Itoa(task.TicketCount))
	form.Set("amount", strconv.Itoa(task.TicketCount))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cartURL, strings.NewReader(form.Encode()))
	if err != nil {
		return types.AttemptResult{Message: err.Error()}
	}
	setBrowserHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		report(state.StatusFailed, err.Error())
		return types.AttemptResult{Message: err.Error()}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPageBytes))

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusFound {
		report(state.StatusSuccess, "Ticket may have been added to cart!")
		p.logger.Info("cart request accepted", zap.String("task_id", task.ID), zap.Int("status", resp.StatusCode))
		return types.AttemptResult{Success: true, Message: "HTTP request sent to cart endpoint"}
	}
	msg := fmt.Sprintf("Cart HTTP %d", resp.StatusCode)
	report(state.StatusFailed, msg)
	return types.AttemptResult{Message: msg}
}

// FindCartURL returns the first add-to-cart endpoint in page. Relative endpoints are resolved
// against baseURL.
func FindCartURL(page, baseURL string) (string, bool) {
	for _, re := range cartPatterns {
		m := re.FindStringSubmatch(page)
		if m == nil {
			continue
		}
		found := m[1]
		if !strings.HasPrefix(found, "http") {
			found = baseURL + found
		}
		return found, true
	}
	return "", false
}

func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,de;q=0.8")
}
