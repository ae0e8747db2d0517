package discover

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/parse"
	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

// YTDLPOptions configures a YTDLPStrategy
type YTDLPOptions struct {
	Path    string // yt-dlp binary, looked up on PATH when bare
	BaseURL string
	Timeout time.Duration
}

// YTDLPStrategy lists items by running yt-dlp against the listing page
type YTDLPStrategy struct {
	opts YTDLPOptions
	log  *logrus.Entry
}

// NewYTDLPStrategy creates a YTDLPStrategy
func NewYTDLPStrategy(opts YTDLPOptions, log *logrus.Entry) *YTDLPStrategy {
	if opts.Path == "" {
		opts.Path = "yt-dlp"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &YTDLPStrategy{opts: opts, log: log}
}

func (s *YTDLPStrategy) Name() string { return "ytdlp" }

// Available reports whether the yt-dlp binary can be found
func (s *YTDLPStrategy) Available() bool {
	_, err := exec.LookPath(s.opts.Path)
	return err == nil
}

func (s *YTDLPStrategy) Discover(ctx context.Context, q models.Query) ([]models.Descriptor, error) {
	listing, err := parse.ListingURL(s.opts.BaseURL, q.Mode, q.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrValidation, err)
	}

	args := []string{"--dump-json", "--skip-download", "--no-warnings"}
	if q.Limit > 0 {
		args = append(args, "--playlist-end", strconv.Itoa(q.Limit))
	}
	args = append(args, listing)

	runCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.opts.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.log.WithField("url", listing).Debugf("Running %s %s", s.opts.Path, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("yt-dlp timed out after %v", s.opts.Timeout)
		}
		return nil, fmt.Errorf("yt-dlp failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseDumpJSON(stdout.Bytes(), s.opts.BaseURL, q.Limit), nil
}

// ytdlpEntry is the subset of a yt-dlp info dict that maps onto a descriptor
type ytdlpEntry struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Uploader     string   `json:"uploader"`
	UploaderID   string   `json:"uploader_id"`
	WebpageURL   string   `json:"webpage_url"`
	URL          string   `json:"url"`
	ViewCount    int64    `json:"view_count"`
	LikeCount    int64    `json:"like_count"`
	CommentCount int64    `json:"comment_count"`
	RepostCount  int64    `json:"repost_count"`
	Timestamp    float64  `json:"timestamp"`
	Duration     float64  `json:"duration"`
	Tags         []string `json:"tags"`
	Track        string   `json:"track"`
	Artist       string   `json:"artist"`
}

// parseDumpJSON reads one info dict per line. Lines that do not decode are skipped.
func parseDumpJSON(out []byte, baseURL string, limit int) []models.Descriptor {
	var items []models.Descriptor
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e ytdlpEntry
		if err := json.Unmarshal(line, &e); err != nil || e.ID == "" {
			continue
		}
		items = append(items, e.descriptor(baseURL))
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items
}

func (e ytdlpEntry) descriptor(baseURL string) models.Descriptor {
	author := e.UploaderID
	if author == "" {
		author = e.Uploader
	}
	d := models.Descriptor{
		ID:          e.ID,
		URL:         e.WebpageURL,
		ContentURL:  e.URL,
		Description: e.Description,
		Author:      author,
		AuthorName:  e.Uploader,
		Views:       e.ViewCount,
		Likes:       e.LikeCount,
		Comments:    e.CommentCount,
		Shares:      e.RepostCount,
		MusicTitle:  e.Track,
		MusicAuthor: e.Artist,
		Duration:    int(e.Duration),
	}
	if d.Description == "" {
		d.Description = e.Title
	}
	if d.URL == "" {
		d.URL = parse.ItemURL(baseURL, author, e.ID)
	}
	if e.Timestamp > 0 {
		posted := time.Unix(int64(e.Timestamp), 0).UTC()
		d.PostedAt = &posted
	}
	for _, tag := range e.Tags {
		if tag = strings.TrimPrefix(tag, "#"); tag != "" {
			d.Hashtags = append(d.Hashtags, tag)
		}
	}
	return d
}
