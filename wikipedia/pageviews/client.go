// Package pageviews fetches per-article view counts from the Wikimedia
// pageviews REST API.
package pageviews

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"wikistats/debugger"
	"wikistats/stats"
	"wikistats/wikipedia"
)

type Config struct {
	URL         string
	UserAgent   string
	Concurrency int
	// Rate is the maximum number of requests per second, 0 for no limit.
	Rate       int
	Retries    uint64
	RetryDelay time.Duration
	Timeout    time.Duration
}

type Metrics struct {
	Requests int `json:"Requests"`
	Found    int `json:"Articles Found"`
	NotFound int `json:"Articles Not Found"`
	Retried  int `json:"Requests Retried"`
	Failed   int `json:"Articles Failed"`
}

type Client struct {
	ROOT_URL   string
	USER_AGENT string

	cfg    Config
	client *http.Client

	rateMu  sync.Mutex
	timeBtn int64 // Minimum time gap between 2 requests to maintain rate
	lastReq int64 // UnixMilliseconds of the last scheduled request

	metricsMu sync.Mutex
	metrics   *Metrics

	log      logrus.FieldLogger
	debugger *debugger.Debugger
}

func NewClient(cfg Config, logger logrus.FieldLogger, debugger *debugger.Debugger) (*Client, error) {
	c := &Client{
		ROOT_URL:   wikipedia.PAGEVIEWS_URL,
		USER_AGENT: wikipedia.USER_AGENT,
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.Timeout},
		metrics:    new(Metrics),
		log:        logger,
		debugger:   debugger,
	}
	if cfg.URL != "" {
		c.ROOT_URL = cfg.URL
	}
	if cfg.UserAgent != "" {
		c.USER_AGENT = cfg.UserAgent
	}
	if c.cfg.Concurrency < 1 {
		c.cfg.Concurrency = 1
	}
	if cfg.Rate > 0 {
		c.timeBtn = int64(1000 / cfg.Rate)
	}

	if _, err := url.Parse(c.ROOT_URL); err != nil {
		return nil, errors.Wrap(err, "pageviews url")
	}
	return c, nil
}

// prepareURL builds the per-article endpoint:
// {root}/{project}/{access}/{agent}/{article}/{granularity}/{start}/{end}
func (c *Client) prepareURL(req Request, article string) string {
	parts := []string{
		strings.TrimRight(c.ROOT_URL, "/"),
		req.Project,
		req.Access,
		req.Agent,
		url.PathEscape(article),
		req.Granularity,
		req.Start,
		req.End,
	}
	return strings.Join(parts, "/")
}

func (c *Client) wait(ctx context.Context) error {
	if c.timeBtn == 0 {
		return nil
	}

	c.rateMu.Lock()
	now := time.Now().UnixMilli()
	next := c.lastReq + c.timeBtn
	if next < now {
		next = now
	}
	c.lastReq = next
	c.rateMu.Unlock()

	if next == now {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(next-now) * time.Millisecond):
		return nil
	}
}

func (c *Client) count(f func(m *Metrics)) {
	c.metricsMu.Lock()
	f(c.metrics)
	c.metricsMu.Unlock()
}

// Views returns the views of article summed over the requested range. An
// article the API does not know is NotFound, not an error. Server errors and
// transport failures are retried; other client errors are not.
func (c *Client) Views(ctx context.Context, req Request, article string) (stats.Value, error) {
	pageurl := c.prepareURL(req, article)
	attempt := 0

	var views stats.Value
	op := func() error {
		if attempt > 0 {
			c.count(func(m *Metrics) { m.Retried++ })
		}
		attempt++

		if err := c.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		v, err := c.fetch(ctx, pageurl)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		views = v
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryDelay), c.cfg.Retries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return stats.NotFound, errors.Wrapf(err, "pageviews of %s", article)
	}
	return views, nil
}

func (c *Client) fetch(ctx context.Context, pageurl string) (stats.Value, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageurl, nil)
	if err != nil {
		return stats.NotFound, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", c.USER_AGENT)
	req.Header.Set("Accept", "application/json")

	c.count(func(m *Metrics) { m.Requests++ })
	lastReq := time.Now().UnixMilli()
	resp, err := c.client.Do(req)
	if err != nil {
		return stats.NotFound, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return stats.NotFound, err
	}
	c.log.WithFields(logrus.Fields{
		"url":    pageurl,
		"status": resp.StatusCode,
		"ms":     time.Now().UnixMilli() - lastReq,
	}).Debug("fetched pageviews")

	switch {
	case resp.StatusCode == http.StatusOK:
		page := new(PageviewsResponse)
		if err := json.Unmarshal(body, page); err != nil {
			return stats.NotFound, errors.Wrap(err, "pageviews body")
		}
		var total int64
		for _, item := range page.Items {
			total += item.Views
		}
		return stats.Int(total), nil

	case resp.StatusCode == http.StatusNotFound:
		return stats.NotFound, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return stats.NotFound, errors.Errorf("status %d", resp.StatusCode)

	default:
		problem := new(ProblemResponse)
		json.Unmarshal(body, problem)
		return stats.NotFound, backoff.Permanent(
			errors.Errorf("status %d: %s", resp.StatusCode, problem.Detail))
	}
}

// Fetch looks up every article and returns ARTICLE\tCOUNT rows in the order
// of articles, NF for the ones without data. An article that still fails
// after the retries is written as NF and recorded; only when every article
// fails, or the context ends, is an error returned.
func (c *Client) Fetch(ctx context.Context, req Request, articles []string) (*stats.Table, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	results := make([]stats.Value, len(articles))
	var (
		failMu   sync.Mutex
		failures int
		lastErr  error
	)

	grp, grpctx := errgroup.WithContext(ctx)
	grp.SetLimit(c.cfg.Concurrency)

	for i, article := range articles {
		i, article := i, article
		if grpctx.Err() != nil {
			break
		}
		grp.Go(func() error {
			v, err := c.Views(grpctx, req, article)
			if err != nil {
				if grpctx.Err() != nil {
					return grpctx.Err()
				}
				c.count(func(m *Metrics) { m.Failed++ })
				c.debugger.Record("pageviews_failed", logrus.Fields{"article": article}, err.Error())
				failMu.Lock()
				failures++
				lastErr = err
				failMu.Unlock()
				results[i] = stats.NotFound
				return nil
			}
			if v.IsNotFound() {
				c.count(func(m *Metrics) { m.NotFound++ })
			} else {
				c.count(func(m *Metrics) { m.Found++ })
			}
			results[i] = v
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return nil, errors.Wrap(err, "fetch pageviews")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "fetch pageviews")
	}
	if len(articles) > 0 && failures == len(articles) {
		return nil, errors.Wrap(lastErr, "every pageviews request failed")
	}

	t := stats.NewTable()
	for i, article := range articles {
		t.Add(article, results[i].String())
	}
	return t, nil
}

func (c *Client) Metrics() Metrics {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	return *c.metrics
}

func (c *Client) PrintMetrics() error {
	fmt.Printf("\n\n")
	fmt.Printf("Metrics:\n")

	m := c.Metrics()
	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", string(data))

	return nil
}
