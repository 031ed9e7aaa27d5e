// Package backlinks counts the internal links pointing at every article of
// a dump.
package backlinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"wikistats/debugger"
	"wikistats/stats"
	"wikistats/wikipedia"
	"wikistats/wikipedia/dump"
)

// maxRedirectHops bounds redirect chains so that loops terminate.
const maxRedirectHops = 5

type Metrics struct {
	PagesRead     int `json:"Pages Read"`
	ArticlesFound int `json:"Articles Found"`
	Redirects     int `json:"Redirects"`
	LinksCounted  int `json:"Links Counted"`
	LinksFolded   int `json:"Links Folded"`
}

// Result is what one pass over a dump yields.
type Result struct {
	// Backlinks maps an article key to its inbound link count, counts of
	// redirect titles folded into the redirect target.
	Backlinks *stats.Table
	// Titles lists the main namespace articles that are not redirects.
	Titles []string
}

type Extractor struct {
	log      logrus.FieldLogger
	debugger *debugger.Debugger
	metrics  *Metrics
}

func NewExtractor(logger logrus.FieldLogger, debugger *debugger.Debugger) *Extractor {
	return &Extractor{
		log:      logger,
		debugger: debugger,
		metrics:  new(Metrics),
	}
}

type parsed struct {
	title    string
	redirect string
	links    []string
}

// Run reads every page of r. Reading, link parsing and counting run as
// separate stages; all counting state lives in this call.
func (s *Extractor) Run(ctx context.Context, r *dump.Reader) (*Result, error) {
	grp, grpctx := errgroup.WithContext(ctx)

	pageChan := make(chan *dump.Page, 64)
	parsedChan := make(chan *parsed, 64)

	counts := make(map[string]int64)
	var order []string
	redirects := make(map[string]string)
	var titles []string

	grp.Go(func() error {
		defer close(pageChan)
		for {
			p, err := r.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			s.metrics.PagesRead++
			select {
			case <-grpctx.Done():
				return grpctx.Err()
			case pageChan <- p:
			}
		}
	})

	grp.Go(func() error {
		defer close(parsedChan)
		for p := range pageChan {
			if p.Ns != 0 {
				continue
			}
			out := &parsed{title: wikipedia.Canonical(p.Title)}
			if p.IsRedirect() {
				out.redirect = wikipedia.Canonical(p.Redirect.Title)
			} else {
				out.links = Links(p.Text)
			}
			select {
			case <-grpctx.Done():
				return grpctx.Err()
			case parsedChan <- out:
			}
		}
		return nil
	})

	grp.Go(func() error {
		for p := range parsedChan {
			if p.redirect != "" {
				redirects[p.title] = p.redirect
				s.metrics.Redirects++
				continue
			}
			titles = append(titles, p.title)
			s.metrics.ArticlesFound++
			for _, key := range p.links {
				if _, ok := counts[key]; !ok {
					order = append(order, key)
				}
				counts[key]++
				s.metrics.LinksCounted++
			}
		}
		return nil
	})

	if err := grp.Wait(); err != nil {
		return nil, errors.Wrap(err, "extract backlinks")
	}

	return &Result{
		Backlinks: s.fold(counts, order, redirects),
		Titles:    titles,
	}, nil
}

// fold moves the counts of redirect titles onto the article they lead to.
func (s *Extractor) fold(counts map[string]int64, order []string, redirects map[string]string) *stats.Table {
	folded := make(map[string]int64, len(counts))
	var keys []string

	for _, key := range order {
		dst := key
		for hops := 0; hops < maxRedirectHops; hops++ {
			next, ok := redirects[dst]
			if !ok {
				break
			}
			dst = next
		}
		if _, loop := redirects[dst]; loop {
			s.debugger.Record("redirect_loop", logrus.Fields{"title": key}, "redirect chain too long, counted as is")
			dst = key
		}
		if dst != key {
			s.metrics.LinksFolded += int(counts[key])
		}
		if _, ok := folded[dst]; !ok {
			keys = append(keys, dst)
		}
		folded[dst] += counts[key]
	}

	t := stats.NewTable()
	for _, key := range keys {
		t.AddInt(key, folded[key])
	}
	return t
}

func (s *Extractor) Metrics() Metrics {
	return *s.metrics
}

func (s *Extractor) PrintMetrics() error {
	fmt.Printf("\n\n")
	fmt.Printf("Metrics:\n")

	data, err := json.MarshalIndent(s.metrics, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", string(data))

	return nil
}
