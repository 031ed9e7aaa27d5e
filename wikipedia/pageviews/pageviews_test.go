package pageviews

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikistats/stats"
)

func validRequest() Request {
	return Request{
		Project:     "en.wikipedia.org",
		Access:      "all-access",
		Agent:       "user",
		Granularity: "daily",
		Start:       "20240101",
		End:         "20240131",
	}
}

func TestRequestValidate(t *testing.T) {
	assert.Nil(t, validRequest().Validate())

	hourly := validRequest()
	hourly.Start, hourly.End = "2024010100", "2024010123"
	assert.Nil(t, hourly.Validate())

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"project", func(r *Request) { r.Project = "de.wikipedia.org" }},
		{"short project", func(r *Request) { r.Project = "en" }},
		{"access", func(r *Request) { r.Access = "tablet" }},
		{"agent", func(r *Request) { r.Agent = "bots" }},
		{"granularity", func(r *Request) { r.Granularity = "hourly" }},
		{"bad start", func(r *Request) { r.Start = "2024-01-01" }},
		{"bad end", func(r *Request) { r.End = "202401311" }},
		{"reversed", func(r *Request) { r.Start, r.End = "20240201", "20240131" }},
		{"too early", func(r *Request) { r.Start = "20150630" }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := validRequest()
			test.mutate(&r)
			err := r.Validate()
			require.NotNil(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRequest))
		})
	}
}

type fakeAPI struct {
	mu     sync.Mutex
	calls  map[string]int
	agents []string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	segs := strings.Split(strings.TrimPrefix(r.URL.EscapedPath(), "/per-article/"), "/")
	article, _ := url.PathUnescape(segs[3])

	f.mu.Lock()
	f.calls[article]++
	n := f.calls[article]
	f.agents = append(f.agents, r.Header.Get("User-Agent"))
	f.mu.Unlock()

	items := func(views ...int64) {
		resp := PageviewsResponse{}
		for _, v := range views {
			resp.Items = append(resp.Items, &PageviewItem{Article: article, Views: v})
		}
		json.NewEncoder(w).Encode(resp)
	}

	switch article {
	case "Dog", "AC/DC":
		items(10, 3)
	case "Flaky":
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		items(5)
	case "Bad":
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ProblemResponse{Detail: "bad title"})
	case "Down":
		w.WriteHeader(http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T) (*Client, *fakeAPI) {
	api := &fakeAPI{calls: make(map[string]int)}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	logger, _ := test.NewNullLogger()
	c, err := NewClient(Config{
		URL:         srv.URL + "/per-article",
		UserAgent:   "wikistats-test",
		Concurrency: 4,
		Retries:     2,
		RetryDelay:  time.Millisecond,
		Timeout:     5 * time.Second,
	}, logger, nil)
	require.Nil(t, err)
	return c, api
}

func TestViews(t *testing.T) {
	ctx := context.Background()

	t.Run("sums items", func(t *testing.T) {
		c, api := newTestClient(t)
		v, err := c.Views(ctx, validRequest(), "Dog")
		require.Nil(t, err)
		assert.Equal(t, "13", v.String())
		assert.Equal(t, []string{"wikistats-test"}, api.agents)
	})

	t.Run("unknown article", func(t *testing.T) {
		c, _ := newTestClient(t)
		v, err := c.Views(ctx, validRequest(), "Nope")
		require.Nil(t, err)
		assert.True(t, v.IsNotFound())
	})

	t.Run("slash in title is escaped", func(t *testing.T) {
		c, api := newTestClient(t)
		v, err := c.Views(ctx, validRequest(), "AC/DC")
		require.Nil(t, err)
		assert.Equal(t, "13", v.String())
		assert.Equal(t, 1, api.calls["AC/DC"])
	})

	t.Run("server errors are retried", func(t *testing.T) {
		c, api := newTestClient(t)
		v, err := c.Views(ctx, validRequest(), "Flaky")
		require.Nil(t, err)
		assert.Equal(t, "5", v.String())
		assert.Equal(t, 3, api.calls["Flaky"])
		assert.Equal(t, 2, c.Metrics().Retried)
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		c, api := newTestClient(t)
		_, err := c.Views(ctx, validRequest(), "Bad")
		require.NotNil(t, err)
		assert.Contains(t, err.Error(), "bad title")
		assert.Equal(t, 1, api.calls["Bad"])
	})

	t.Run("retries are bounded", func(t *testing.T) {
		c, api := newTestClient(t)
		_, err := c.Views(ctx, validRequest(), "Down")
		require.NotNil(t, err)
		assert.Equal(t, 3, api.calls["Down"])
		assert.Equal(t, 2, c.Metrics().Retried)
		assert.Equal(t, 3, c.Metrics().Requests)
	})
}

func TestFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("mixed results", func(t *testing.T) {
		c, _ := newTestClient(t)
		tbl, err := c.Fetch(ctx, validRequest(), []string{"Dog", "Nope", "Flaky", "Bad"})
		require.Nil(t, err)

		assert.Equal(t, []stats.Entry{
			{Key: "Dog", Value: "13"},
			{Key: "Nope", Value: "NF"},
			{Key: "Flaky", Value: "5"},
			{Key: "Bad", Value: "NF"},
		}, tbl.Entries())

		m := c.Metrics()
		assert.Equal(t, 2, m.Found)
		assert.Equal(t, 1, m.NotFound)
		assert.Equal(t, 1, m.Failed)
	})

	t.Run("everything failing is an error", func(t *testing.T) {
		c, _ := newTestClient(t)
		_, err := c.Fetch(ctx, validRequest(), []string{"Bad", "Down"})
		assert.NotNil(t, err)
	})

	t.Run("invalid request", func(t *testing.T) {
		c, api := newTestClient(t)
		r := validRequest()
		r.Agent = "robots"
		_, err := c.Fetch(ctx, r, []string{"Dog"})
		assert.True(t, errors.Is(err, ErrInvalidRequest))
		assert.Empty(t, api.calls)
	})

	t.Run("no articles", func(t *testing.T) {
		c, _ := newTestClient(t)
		tbl, err := c.Fetch(ctx, validRequest(), nil)
		require.Nil(t, err)
		assert.Equal(t, 0, tbl.Len())
	})

	t.Run("cancelled", func(t *testing.T) {
		c, _ := newTestClient(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := c.Fetch(cctx, validRequest(), []string{"Dog", "Flaky"})
		assert.NotNil(t, err)
	})
}
