package selector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
)

func newShop(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "", "1":
			fmt.Fprint(w, `<html><body>
				<a class="item" href="/item/1">One</a>
				<a class="item" href="/item/2">Two</a>
				<a class="next" href="/list?page=2">next</a>
			</body></html>`)
		case "2":
			fmt.Fprint(w, `<html><body>
				<a class="item" href="/item/2">Two again</a>
				<a class="item" href="/item/3">Three</a>
				<a class="next" href="/list?page=1">back to start</a>
			</body></html>`)
		}
	})
	mux.HandleFunc("/item/1", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
			<h1 class="title"> Trail Shoe </h1>
			<span class="price">89.90</span><span class="currency">EUR</span>
			<div class="stock">In stock</div>
			<dl><dd class="color">Blue</dd></dl>
		</body></html>`)
	})
	mux.HandleFunc("/item/2", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><h1 class="title">Road Shoe</h1><div class="stock">SOLD OUT</div></body></html>`)
	})
	mux.HandleFunc("/item/gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	})
	mux.HandleFunc("/item/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/item/drift", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><h2>new layout</h2></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(base string) Config {
	return Config{
		Vendor:               "acme",
		ListURLs:             []string{base + "/list"},
		ItemLinkSelector:     "a.item",
		NextPageSelector:     "a.next",
		TitleSelector:        ".title",
		PriceSelector:        ".price",
		CurrencySelector:     ".currency",
		AvailabilitySelector: ".stock",
		AttributeSelectors:   map[string]string{"color": ".color"},
		Timeout:              5 * time.Second,
	}
}

type progressLog struct {
	mu     sync.Mutex
	values []float64
}

func (p *progressLog) report(f float64) {
	p.mu.Lock()
	p.values = append(p.values, f)
	p.mu.Unlock()
}

func newStrategy(t *testing.T, cfg Config) (crawler.Strategy, *progressLog) {
	t.Helper()
	factory, err := NewFactory(cfg, ratelimit.New(ratelimit.Config{}), zap.NewNop())
	require.NoError(t, err)
	log := &progressLog{}
	s, err := factory.New("acme-1", log.report)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, log
}

func TestListItemsFollowsPagination(t *testing.T) {
	t.Parallel()

	srv := newShop(t)
	s, progress := newStrategy(t, testConfig(srv.URL))

	items, err := s.ListItems(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{srv.URL + "/item/1", srv.URL + "/item/2", srv.URL + "/item/3"}, items)
	require.NotEmpty(t, progress.values)
	require.InDelta(t, 1.0, progress.values[len(progress.values)-1], 1e-9)
}

func TestListItemsParamOverridesStart(t *testing.T) {
	t.Parallel()

	srv := newShop(t)
	cfg := testConfig(srv.URL)
	cfg.MaxPages = 1
	s, _ := newStrategy(t, cfg)

	items, err := s.ListItems(context.Background(), map[string]string{"url": srv.URL + "/list?page=2"})
	require.NoError(t, err)
	require.Equal(t, []string{srv.URL + "/item/2", srv.URL + "/item/3"}, items)
}

func TestProcessItemExtractsFields(t *testing.T) {
	t.Parallel()

	srv := newShop(t)
	s, _ := newStrategy(t, testConfig(srv.URL))

	data, err := s.ProcessItem(context.Background(), crawler.Job{Target: srv.URL + "/item/1"})
	require.NoError(t, err)
	require.Equal(t, crawler.ItemData{
		SourceURL:  srv.URL + "/item/1",
		Vendor:     "acme",
		Status:     crawler.StatusActive,
		Title:      "Trail Shoe",
		Price:      "89.90",
		Currency:   "EUR",
		Attributes: map[string]string{"color": "Blue"},
	}, data)
}

func TestProcessItemSoldOut(t *testing.T) {
	t.Parallel()

	srv := newShop(t)
	s, _ := newStrategy(t, testConfig(srv.URL))

	data, err := s.ProcessItem(context.Background(), crawler.Job{Target: srv.URL + "/item/2"})
	require.NoError(t, err)
	require.Equal(t, crawler.StatusSoldOut, data.Status)
	require.Nil(t, data.Attributes)
}

func TestProcessItemGone(t *testing.T) {
	t.Parallel()

	srv := newShop(t)
	s, _ := newStrategy(t, testConfig(srv.URL))

	_, err := s.ProcessItem(context.Background(), crawler.Job{Target: srv.URL + "/item/gone"})
	require.ErrorIs(t, err, crawler.ErrItemGone)

	_, err = s.ProcessItem(context.Background(), crawler.Job{Target: srv.URL + "/item/missing"})
	require.ErrorIs(t, err, crawler.ErrItemGone)
}

func TestProcessItemFailures(t *testing.T) {
	t.Parallel()

	srv := newShop(t)
	s, _ := newStrategy(t, testConfig(srv.URL))

	_, err := s.ProcessItem(context.Background(), crawler.Job{Target: srv.URL + "/item/broken"})
	require.Error(t, err)
	require.NotErrorIs(t, err, crawler.ErrItemGone)

	_, err = s.ProcessItem(context.Background(), crawler.Job{Target: srv.URL + "/item/drift"})
	require.ErrorContains(t, err, "title not found")
}

func TestProcessItemCanceled(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(block) })

	s, _ := newStrategy(t, testConfig(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.ProcessItem(ctx, crawler.Job{Target: srv.URL + "/item/slow"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcessItemRespectsRobots(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /item/\n")
	})
	mux.HandleFunc("/item/1", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><h1 class="title">Trail Shoe</h1></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	cfg.RespectRobots = true
	s, _ := newStrategy(t, cfg)
	_, err := s.ProcessItem(context.Background(), crawler.Job{Target: srv.URL + "/item/1"})
	require.ErrorIs(t, err, colly.ErrRobotsTxtBlocked)

	cfg.RespectRobots = false
	s, _ = newStrategy(t, cfg)
	data, err := s.ProcessItem(context.Background(), crawler.Job{Target: srv.URL + "/item/1"})
	require.NoError(t, err)
	require.Equal(t, "Trail Shoe", data.Title)
}

func TestStrategyCloseTwice(t *testing.T) {
	t.Parallel()

	factory, err := NewFactory(testConfig("http://unused"), nil, nil)
	require.NoError(t, err)
	s, err := factory.New("acme-1", nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.Error(t, s.Close())

	_, err = s.ListItems(context.Background(), nil)
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Config{}.Validate())
	require.Error(t, Config{Vendor: "acme", TitleSelector: "h1"}.Validate())
	require.Error(t, Config{Vendor: "acme", ItemLinkSelector: "a"}.Validate())
	require.NoError(t, Config{Vendor: "acme", ItemLinkSelector: "a", TitleSelector: "h1"}.Validate())

	_, err := NewFactory(Config{}, nil, nil)
	require.Error(t, err)
}
