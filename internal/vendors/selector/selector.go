// Package selector implements a configurable vendor strategy that extracts
// listings and items from static HTML with CSS selectors, using colly.
package selector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
)

const (
	defaultMaxPages = 10
	defaultTimeout  = 15 * time.Second
)

// Config describes where a vendor lists items and how to read an item page.
type Config struct {
	Vendor string `mapstructure:"name"`
	// ListURLs are the default listing pages; a LIST job's "url" param overrides them.
	ListURLs         []string `mapstructure:"list_urls"`
	ItemLinkSelector string   `mapstructure:"item_link_selector"`
	NextPageSelector string   `mapstructure:"next_page_selector"`
	MaxPages         int      `mapstructure:"max_pages"`

	TitleSelector    string `mapstructure:"title_selector"`
	PriceSelector    string `mapstructure:"price_selector"`
	CurrencySelector string `mapstructure:"currency_selector"`
	// AvailabilitySelector text containing SoldOutText marks the item SOLD_OUT.
	AvailabilitySelector string            `mapstructure:"availability_selector"`
	SoldOutText          string            `mapstructure:"sold_out_text"`
	AttributeSelectors   map[string]string `mapstructure:"attribute_selectors"`

	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// Validate checks the fields every strategy needs.
func (c Config) Validate() error {
	if c.Vendor == "" {
		return errors.New("vendor name is required")
	}
	if c.ItemLinkSelector == "" {
		return fmt.Errorf("vendor %s: item_link_selector is required", c.Vendor)
	}
	if c.TitleSelector == "" {
		return fmt.Errorf("vendor %s: title_selector is required", c.Vendor)
	}
	return nil
}

// Factory mints one Strategy per job. All strategies of a vendor share the
// HTTP transport and the politeness limiter.
type Factory struct {
	cfg       Config
	limiter   *ratelimit.Limiter
	transport http.RoundTripper
	logger    *zap.Logger
}

// NewFactory validates cfg and builds a Factory. A nil limiter disables politeness waits.
func NewFactory(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SoldOutText == "" {
		cfg.SoldOutText = "sold out"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		cfg:       cfg,
		limiter:   limiter,
		transport: newHTTPTransport(),
		logger:    logger.With(zap.String("vendor", cfg.Vendor)),
	}, nil
}

// New implements crawler.StrategyFactory.
func (f *Factory) New(label string, report crawler.ProgressFunc) (crawler.Strategy, error) {
	if report == nil {
		report = func(float64) {}
	}
	return &Strategy{
		factory: f,
		label:   label,
		report:  report,
	}, nil
}

// Strategy is bound to a single job and must not be used after Close.
type Strategy struct {
	factory *Factory
	label   string
	report  crawler.ProgressFunc

	mu     sync.Mutex
	closed bool
}

// ListItems walks the listing pages and returns absolute item URLs in page order.
func (s *Strategy) ListItems(ctx context.Context, params map[string]string) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	cfg := s.factory.cfg
	starts := cfg.ListURLs
	if u := params["url"]; u != "" {
		starts = []string{u}
	}
	if len(starts) == 0 {
		return nil, fmt.Errorf("vendor %s: no listing url configured", cfg.Vendor)
	}

	var (
		items   []string
		seen    = make(map[string]struct{})
		visited = make(map[string]struct{})
		budget  = cfg.MaxPages * len(starts)
		pages   int
	)
	for _, start := range starts {
		next := start
		for i := 0; i < cfg.MaxPages && next != ""; i++ {
			if _, done := visited[next]; done {
				break
			}
			visited[next] = struct{}{}
			page := next
			next = ""
			err := s.visit(ctx, page, func(c *colly.Collector) {
				c.OnHTML(cfg.ItemLinkSelector, func(e *colly.HTMLElement) {
					link := e.Request.AbsoluteURL(e.Attr("href"))
					if link == "" {
						return
					}
					if _, dup := seen[link]; dup {
						return
					}
					seen[link] = struct{}{}
					items = append(items, link)
				})
				if cfg.NextPageSelector != "" {
					c.OnHTML(cfg.NextPageSelector, func(e *colly.HTMLElement) {
						if next == "" {
							next = e.Request.AbsoluteURL(e.Attr("href"))
						}
					})
				}
			})
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", page, err)
			}
			pages++
			s.report(float64(pages) / float64(budget))
		}
	}
	s.report(1)
	return items, nil
}

// ProcessItem fetches job.Target and normalizes it. A 404 or 410 yields
// crawler.ErrItemGone.
func (s *Strategy) ProcessItem(ctx context.Context, job crawler.Job) (crawler.ItemData, error) {
	if err := s.checkOpen(); err != nil {
		return crawler.ItemData{}, err
	}
	cfg := s.factory.cfg
	s.report(0)

	data := crawler.ItemData{
		SourceURL: job.Target,
		Vendor:    cfg.Vendor,
		Status:    crawler.StatusActive,
	}
	found := false
	err := s.visit(ctx, job.Target, func(c *colly.Collector) {
		c.OnHTML("html", func(e *colly.HTMLElement) {
			found = true
			data.Title = strings.TrimSpace(e.ChildText(cfg.TitleSelector))
			if cfg.PriceSelector != "" {
				data.Price = strings.TrimSpace(e.ChildText(cfg.PriceSelector))
			}
			if cfg.CurrencySelector != "" {
				data.Currency = strings.TrimSpace(e.ChildText(cfg.CurrencySelector))
			}
			if cfg.AvailabilitySelector != "" {
				availability := strings.ToLower(e.ChildText(cfg.AvailabilitySelector))
				if strings.Contains(availability, strings.ToLower(cfg.SoldOutText)) {
					data.Status = crawler.StatusSoldOut
				}
			}
			for name, sel := range cfg.AttributeSelectors {
				if v := strings.TrimSpace(e.ChildText(sel)); v != "" {
					if data.Attributes == nil {
						data.Attributes = make(map[string]string, len(cfg.AttributeSelectors))
					}
					data.Attributes[name] = v
				}
			}
		})
	})
	if err != nil {
		return crawler.ItemData{}, err
	}
	if !found || data.Title == "" {
		return crawler.ItemData{}, fmt.Errorf("item %s: title not found with %q", job.Target, cfg.TitleSelector)
	}
	s.report(1)
	return data, nil
}

// Close releases the strategy. Calling it twice is an error.
func (s *Strategy) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("strategy already closed")
	}
	s.closed = true
	return nil
}

func (s *Strategy) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("strategy is closed")
	}
	return nil
}

// visit fetches one page with a fresh collector configured by hooks.
func (s *Strategy) visit(ctx context.Context, url string, hooks func(*colly.Collector)) error {
	f := s.factory
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return err
		}
	}

	c := colly.NewCollector(colly.AllowURLRevisit())
	c.WithTransport(f.transport)
	c.SetRequestTimeout(f.cfg.Timeout)
	c.IgnoreRobotsTxt = !f.cfg.RespectRobots
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("X-Crawler-Worker", s.label)
	})

	var (
		status   int
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		metrics.ObserveFetch(f.cfg.Vendor, url, r.StatusCode, len(r.Body))
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		metrics.ObserveFetch(f.cfg.Vendor, url, status, 0)
		fetchErr = err
	})
	hooks(c)

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(url)
	}()

	var err error
	select {
	case <-ctx.Done():
		return fmt.Errorf("visit %s canceled: %w", url, ctx.Err())
	case err = <-done:
	}
	if status == http.StatusNotFound || status == http.StatusGone {
		return crawler.ErrItemGone
	}
	if err == nil {
		err = fetchErr
	}
	if err != nil {
		f.logger.Debug("fetch failed", zap.String("url", url), zap.Int("status", status), zap.Error(err))
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
