// Package discovery finds the pages linked from a page so they can be sent
// to the classifier in one batch.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
)

// maxPageSize bounds how much of a page is parsed.
const maxPageSize = 5 << 20

// ErrNotHTML is returned for pages that are not served as HTML.
var ErrNotHTML = errors.New("page is not html")

// Links fetches pageURL and returns the absolute http(s) links it contains,
// without fragments, de-duplicated in document order. With sameOrigin set
// only links on the page's own scheme and host are kept.
func Links(ctx context.Context, hc *http.Client, pageURL string, sameOrigin bool) ([]string, error) {
	if hc == nil {
		hc = http.DefaultClient
	}

	base, err := url.Parse(pageURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("discovery: invalid page url %q", pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", pageURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, fmt.Errorf("%w: %s", ErrNotHTML, ct)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", pageURL, err)
	}

	// A <base href> changes how relative links resolve.
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = b
		}
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, ok := resolve(base, href, sameOrigin)
		if !ok {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links, nil
}

func resolve(base *url.URL, href string, sameOrigin bool) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}

	u, err := base.Parse(href)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if sameOrigin && (u.Scheme != base.Scheme || !strings.EqualFold(u.Host, base.Host)) {
		return "", false
	}
	u.Fragment, u.RawFragment = "", ""
	return u.String(), true
}

// Collect runs Links on every seed concurrently and merges the results,
// seeds first, de-duplicated and capped at limit (no cap when limit <= 0).
// A seed that fails to load fails the whole collection.
func Collect(ctx context.Context, hc *http.Client, seeds []string, sameOrigin bool, limit int) ([]string, error) {
	found := make([][]string, len(seeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, seed := range seeds {
		g.Go(func() error {
			links, err := Links(gctx, hc, seed, sameOrigin)
			if err != nil {
				return err
			}
			found[i] = links
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []string
	seen := make(map[string]struct{})
	add := func(u string) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}
		if _, dup := seen[u]; !dup {
			seen[u] = struct{}{}
			out = append(out, u)
		}
		return true
	}

	for _, s := range seeds {
		if !add(s) {
			return out, nil
		}
	}
	for _, links := range found {
		for _, l := range links {
			if !add(l) {
				return out, nil
			}
		}
	}
	return out, nil
}
