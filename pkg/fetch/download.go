package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

// DownloadOptions configures a Downloader
type DownloadOptions struct {
	UserAgent        string
	Referer          string
	MaxFileSizeBytes int64         // 0 means unlimited
	SemaphoreTimeout time.Duration // Bound on waiting for a host slot
}

// Downloader streams a URL to a file under the per-host concurrency cap
type Downloader struct {
	requester *Requester
	hosts     *HostGate
	opts      DownloadOptions
	log       *logrus.Entry
}

// NewDownloader creates a Downloader. hosts may be nil to skip the per-host cap.
func NewDownloader(requester *Requester, hosts *HostGate, opts DownloadOptions, log *logrus.Entry) *Downloader {
	return &Downloader{requester: requester, hosts: hosts, opts: opts, log: log}
}

// Requester returns the retrying requester the downloader uses
func (d *Downloader) Requester() *Requester {
	return d.requester
}

// ToFile downloads rawURL into destPath and returns the number of bytes written.
// Content is written to destPath+".part" and renamed on success, so destPath is
// either complete or absent. An empty referer falls back to the configured one.
func (d *Downloader) ToFile(ctx context.Context, rawURL, referer, destPath string) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return 0, fmt.Errorf("%w: invalid content url '%s'", utils.ErrParsing, rawURL)
	}
	host := u.Hostname()
	dlLog := d.log.WithFields(logrus.Fields{"host": host, "dest": destPath})

	if d.hosts != nil {
		if err := d.hosts.EnterWithin(ctx, host, d.opts.SemaphoreTimeout); err != nil {
			return 0, err
		}
		defer d.hosts.Leave(host)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	if d.opts.UserAgent != "" {
		req.Header.Set("User-Agent", d.opts.UserAgent)
	}
	if referer == "" {
		referer = d.opts.Referer
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := d.requester.FetchWithRetry(ctx, req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return 0, err
	}
	defer resp.Body.Close()

	if limit := d.opts.MaxFileSizeBytes; limit > 0 && resp.ContentLength > limit {
		return 0, fmt.Errorf("%w: content length %d exceeds limit %d", utils.ErrFetch, resp.ContentLength, limit)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("%w: create directory for '%s': %v", utils.ErrFilesystem, destPath, err)
	}
	tmp := destPath + ".part"
	n, err := d.writeBody(resp.Body, tmp)
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("%w: rename '%s': %v", utils.ErrFilesystem, tmp, err)
	}
	dlLog.Debugf("Downloaded %d bytes", n)
	return n, nil
}

var errTooLarge = errors.New("download exceeds size limit")

func (d *Downloader) writeBody(body io.Reader, path string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("%w: create '%s': %v", utils.ErrFilesystem, path, err)
	}
	defer f.Close()

	src := body
	if limit := d.opts.MaxFileSizeBytes; limit > 0 {
		src = io.LimitReader(body, limit+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}
	if limit := d.opts.MaxFileSizeBytes; limit > 0 && n > limit {
		return 0, fmt.Errorf("%w: %w (%d bytes)", utils.ErrFetch, errTooLarge, limit)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: empty response body", utils.ErrFetch)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("%w: close '%s': %v", utils.ErrFilesystem, path, err)
	}
	return n, nil
}
