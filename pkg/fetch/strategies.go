package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/kkdai/youtube/v2"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/parse"
	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

// ErrNotApplicable is returned by a strategy that cannot handle a descriptor at all.
// The chain moves on without counting it as an attempt.
var ErrNotApplicable = errors.New("strategy not applicable")

// Strategy is one way of getting an item's content onto local disk
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, d models.Descriptor, destPath string, noWatermark bool) (*models.FetchResult, error)
}

// Chain tries strategies in order until one succeeds
type Chain struct {
	strategies []Strategy
	log        *logrus.Entry
}

// NewChain creates a fetch chain
func NewChain(log *logrus.Entry, strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies, log: log}
}

// Fetch implements the processor's fetch collaborator
func (c *Chain) Fetch(ctx context.Context, d models.Descriptor, destPath string, noWatermark bool) (*models.FetchResult, error) {
	itemLog := c.log.WithField("item_id", d.ID)
	var errs []error
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := s.Fetch(ctx, d, destPath, noWatermark)
		if err == nil {
			res.Strategy = s.Name()
			return res, nil
		}
		if errors.Is(err, ErrNotApplicable) {
			continue
		}
		itemLog.WithField("strategy", s.Name()).Debugf("Fetch strategy failed: %v", err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no strategy can fetch item '%s'", utils.ErrFetch, d.ID)
	}
	return nil, fmt.Errorf("%w: %w", utils.ErrFetch, errors.Join(errs...))
}

// DirectStrategy downloads the descriptor's content URL. With noWatermark it
// first tries the watermark-free variant of that URL.
type DirectStrategy struct {
	dl *Downloader
}

// NewDirectStrategy creates a DirectStrategy
func NewDirectStrategy(dl *Downloader) *DirectStrategy {
	return &DirectStrategy{dl: dl}
}

func (s *DirectStrategy) Name() string { return "direct" }

func (s *DirectStrategy) Fetch(ctx context.Context, d models.Descriptor, destPath string, noWatermark bool) (*models.FetchResult, error) {
	if d.ContentURL == "" || parse.IsYouTubeURL(d.ContentURL) {
		return nil, ErrNotApplicable
	}
	candidates := []string{d.ContentURL}
	if noWatermark {
		if variant := NoWatermarkURL(d.ContentURL); variant != d.ContentURL {
			candidates = []string{variant, d.ContentURL}
		}
	}

	var lastErr error
	for _, u := range candidates {
		n, err := s.dl.ToFile(ctx, u, d.URL, destPath)
		if err == nil {
			return &models.FetchResult{LocalPath: destPath, Size: n}, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// NoWatermarkURL rewrites a content URL to request the watermark-free rendition:
// watermark=1 becomes watermark=0, otherwise wm=0 is appended.
func NoWatermarkURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	switch {
	case q.Get("watermark") == "1":
		q.Set("watermark", "0")
	case q.Has("watermark") || q.Has("wm"):
		return raw
	default:
		q.Set("wm", "0")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// PageResolver loads the item's page, resolves a content URL from the embedded
// state and downloads it. Page renditions carry the watermark.
type PageResolver struct {
	dl        *Downloader
	baseURL   string
	userAgent string
	log       *logrus.Entry
}

// NewPageResolver creates a PageResolver
func NewPageResolver(dl *Downloader, baseURL, userAgent string, log *logrus.Entry) *PageResolver {
	return &PageResolver{dl: dl, baseURL: baseURL, userAgent: userAgent, log: log}
}

func (s *PageResolver) Name() string { return "page" }

func (s *PageResolver) Fetch(ctx context.Context, d models.Descriptor, destPath string, _ bool) (*models.FetchResult, error) {
	pageURL := d.URL
	if pageURL == "" && s.baseURL != "" {
		pageURL = parse.ItemURL(s.baseURL, d.Author, d.ID)
	}
	if pageURL == "" || parse.IsYouTubeURL(pageURL) {
		return nil, ErrNotApplicable
	}

	contentURL, err := s.Resolve(ctx, d.ID, pageURL)
	if err != nil {
		return nil, err
	}
	n, err := s.dl.ToFile(ctx, contentURL, pageURL, destPath)
	if err != nil {
		return nil, err
	}
	return &models.FetchResult{LocalPath: destPath, Size: n, Watermarked: true}, nil
}

// Resolve returns the content URL for item id found on pageURL
func (s *PageResolver) Resolve(ctx context.Context, id, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	resp, err := s.dl.Requester().FetchWithRetry(ctx, req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: item page: %v", utils.ErrParsing, err)
	}

	if state, err := parse.ExtractState(doc); err == nil {
		for _, item := range parse.ItemsFromState(state, s.baseURL) {
			if item.ID == id && item.ContentURL != "" {
				return item.ContentURL, nil
			}
		}
	} else {
		s.log.WithField("item_id", id).Debugf("No page state, scanning: %v", err)
	}
	if meta, ok := parse.MetaDescriptor(doc); ok && meta.ID == id && meta.ContentURL != "" {
		return meta.ContentURL, nil
	}
	if u := parse.ScanContentURL(string(body)); u != "" {
		return u, nil
	}
	return "", fmt.Errorf("%w: no content url on page for item '%s'", utils.ErrParsing, id)
}

// YouTubeStrategy fetches items whose content lives on YouTube
type YouTubeStrategy struct {
	client  youtube.Client
	maxSize int64
	log     *logrus.Entry
}

// NewYouTubeStrategy creates a YouTubeStrategy on top of httpClient
func NewYouTubeStrategy(httpClient *http.Client, maxSize int64, log *logrus.Entry) *YouTubeStrategy {
	return &YouTubeStrategy{client: youtube.Client{HTTPClient: httpClient}, maxSize: maxSize, log: log}
}

func (s *YouTubeStrategy) Name() string { return "youtube" }

func (s *YouTubeStrategy) Fetch(ctx context.Context, d models.Descriptor, destPath string, _ bool) (*models.FetchResult, error) {
	target := d.ContentURL
	if !parse.IsYouTubeURL(target) {
		target = d.URL
	}
	if !parse.IsYouTubeURL(target) {
		return nil, ErrNotApplicable
	}

	video, err := s.client.GetVideoContext(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	format := pickMP4(video.Formats.WithAudioChannels())
	if format == nil {
		return nil, fmt.Errorf("no mp4 format with audio for '%s'", video.ID)
	}
	stream, size, err := s.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}
	defer stream.Close()

	if s.maxSize > 0 && size > s.maxSize {
		return nil, fmt.Errorf("%w: stream size %d exceeds limit %d", utils.ErrFetch, size, s.maxSize)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrFilesystem, err)
	}
	tmp := destPath + ".part"
	n, err := copyToFile(stream, tmp)
	if err == nil && n == 0 {
		err = fmt.Errorf("%w: empty stream", utils.ErrFetch)
	}
	if err == nil {
		err = os.Rename(tmp, destPath)
	}
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"video_id": video.ID, "itag": format.ItagNo}).Debugf("Downloaded %d bytes", n)
	return &models.FetchResult{LocalPath: destPath, Size: n}, nil
}

// pickMP4 returns the first mp4 format; formats arrive best quality first
func pickMP4(formats youtube.FormatList) *youtube.Format {
	for i := range formats {
		if strings.Contains(formats[i].MimeType, "video/mp4") {
			return &formats[i]
		}
	}
	return nil
}

func copyToFile(src io.Reader, path string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", utils.ErrFilesystem, err)
	}
	n, err := io.Copy(f, src)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}
	return n, nil
}
