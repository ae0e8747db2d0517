package discover

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/clip-harvester/pkg/fetch"
	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/parse"
	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

// PageOptions configures a PageStrategy
type PageOptions struct {
	BaseURL      string
	UserAgent    string
	DelayPerHost time.Duration
}

// PageStrategy loads the selector's listing page and reads items from the
// embedded page state, falling back to item links found in the markup.
type PageStrategy struct {
	requester   *fetch.Requester
	rateLimiter *fetch.RateLimiter
	robots      *fetch.RobotsHandler // nil when robots.txt is not honoured
	opts        PageOptions
	log         *logrus.Entry
}

// NewPageStrategy creates a PageStrategy. robots may be nil.
func NewPageStrategy(requester *fetch.Requester, rateLimiter *fetch.RateLimiter, robots *fetch.RobotsHandler, opts PageOptions, log *logrus.Entry) *PageStrategy {
	return &PageStrategy{requester: requester, rateLimiter: rateLimiter, robots: robots, opts: opts, log: log}
}

func (s *PageStrategy) Name() string { return "page" }

func (s *PageStrategy) Discover(ctx context.Context, q models.Query) ([]models.Descriptor, error) {
	listing, err := parse.ListingURL(s.opts.BaseURL, q.Mode, q.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrValidation, err)
	}
	target, err := url.Parse(listing)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrParsing, err)
	}
	pageLog := s.log.WithField("url", listing)

	if s.robots != nil && !s.robots.Allowed(ctx, target, s.opts.UserAgent) {
		return nil, fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, listing)
	}

	body, err := s.load(ctx, target)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: listing page: %v", utils.ErrParsing, err)
	}

	if state, err := parse.ExtractState(doc); err == nil {
		if items := parse.ItemsFromState(state, s.opts.BaseURL); len(items) > 0 {
			pageLog.Debugf("Found %d item(s) in page state", len(items))
			return items, nil
		}
	} else {
		pageLog.Debugf("No usable page state: %v", err)
	}

	// Markup fallback: ids only, the author is known for profile listings
	author := ""
	if q.Mode == models.SelectorProfile {
		author = q.Value
	}
	var items []models.Descriptor
	for _, id := range parse.ScanItemIDs(doc) {
		items = append(items, models.Descriptor{
			ID:     id,
			Author: author,
			URL:    parse.ItemURL(s.opts.BaseURL, author, id),
		})
	}
	pageLog.Debugf("Found %d item link(s) in markup", len(items))
	return items, nil
}

// load fetches the listing page under the per-host delay
func (s *PageStrategy) load(ctx context.Context, target *url.URL) ([]byte, error) {
	host := target.Hostname()
	if s.rateLimiter != nil {
		if err := s.rateLimiter.ApplyDelay(ctx, host, s.opts.DelayPerHost); err != nil {
			return nil, err
		}
		defer s.rateLimiter.UpdateLastRequestTime(host)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	if s.opts.UserAgent != "" {
		req.Header.Set("User-Agent", s.opts.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.requester.FetchWithRetry(ctx, req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}
	return body, nil
}
