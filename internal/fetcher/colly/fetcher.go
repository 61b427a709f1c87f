// Package collyfetcher implements ratings.PageFetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/film-ratings-crawler/internal/ratings"
)

const (
	yearParam = "my"
	pageParam = "pn"
)

// Config controls collector behavior.
type Config struct {
	BaseURL       string
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

var _ ratings.PageFetcher = (*Fetcher)(nil)

// Fetcher issues one GET per (year, page) against the registry search endpoint.
type Fetcher struct {
	cfg           Config
	base          *url.URL
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// pageResult collects what the collector callbacks observed for one visit.
type pageResult struct {
	status int
	body   []byte
	err    error
}

// New builds a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse registry base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("registry base url %q must be absolute", cfg.BaseURL)
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:           cfg,
		base:          base,
		baseCollector: c,
	}, nil
}

// PageURL renders {base_url}?my={year}&pn={page}, keeping any query
// parameters already present on the base URL.
func (f *Fetcher) PageURL(year, page int) string {
	u := *f.base
	q := u.Query()
	q.Set(yearParam, strconv.Itoa(year))
	q.Set(pageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// Fetch returns the page markup, or a *ratings.FetchError for network
// failures and non-2xx responses.
func (f *Fetcher) Fetch(ctx context.Context, year, page int) ([]byte, error) {
	var hooked pageResult
	collector := f.buildCollector(&hooked)
	collector.Context = ctx

	result, err := f.runCollector(ctx, collector, f.PageURL(year, page), &hooked)
	if err != nil {
		return nil, &ratings.FetchError{Year: year, Page: page, StatusCode: result.status, Err: err}
	}
	if result.status < http.StatusOK || result.status >= http.StatusMultipleChoices {
		return nil, &ratings.FetchError{
			Year:       year,
			Page:       page,
			StatusCode: result.status,
			Err:        errors.New(http.StatusText(result.status)),
		}
	}
	return result.body, nil
}

func (f *Fetcher) buildCollector(result *pageResult) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	f.configureCollectorHooks(collector, result)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *pageResult) {
	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
		}
		result.err = err
	})
}

// runCollector visits pageURL and returns what the hooks recorded in
// hooked. On cancellation the visit goroutine may still be writing hooked,
// so it is not read and an empty result is returned.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, pageURL string, hooked *pageResult) (pageResult, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return pageResult{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if ctx.Err() != nil {
			return pageResult{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
		}
		result := *hooked
		if result.err != nil {
			return result, fmt.Errorf("colly response failed: %w", result.err)
		}
		if err != nil {
			return result, fmt.Errorf("colly visit failed: %w", err)
		}
		return result, nil
	}
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
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
