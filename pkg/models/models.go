package models

import (
	"strings"
	"time"
)

// Job is one harvest request and its execution record
type Job struct {
	ID             string       `json:"id"`
	Mode           SelectorKind `json:"mode"`
	Value          string       `json:"value"`
	Limit          int          `json:"limit"`
	NoWatermark    bool         `json:"no_watermark"`
	Since          *time.Time   `json:"since,omitempty"`
	Until          *time.Time   `json:"until,omitempty"`
	FolderOverride string       `json:"folder_override,omitempty"`
	Origin         JobOrigin    `json:"origin"`
	Status         JobStatus    `json:"status"`
	Progress       int          `json:"progress"`
	Discovered     int          `json:"discovered"`
	Succeeded      int          `json:"succeeded"`
	Failed         int          `json:"failed"`
	Error          string       `json:"error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}

// RecomputeProgress sets Progress from the item counters
func (j *Job) RecomputeProgress() {
	j.Progress = ComputeProgress(j.Succeeded, j.Failed, j.Discovered)
}

// Query builds the discovery query for this job
func (j *Job) Query() Query {
	return Query{
		Mode:  j.Mode,
		Value: j.Value,
		Limit: j.Limit,
		Since: j.Since,
		Until: j.Until,
	}
}

// ComputeProgress returns floor((succeeded+failed)/discovered*100), or 0 when nothing was discovered
func ComputeProgress(succeeded, failed, discovered int) int {
	if discovered <= 0 {
		return 0
	}
	p := (succeeded + failed) * 100 / discovered
	if p > 100 {
		p = 100
	}
	return p
}

// Item is one harvested content unit, keyed by the upstream platform id
type Item struct {
	ID    string `json:"id"`
	JobID string `json:"job_id"`
	Seq   int    `json:"seq"` // Discovery order within the owning job

	// Advisory upstream metadata
	URL         string         `json:"url,omitempty"`
	Description string         `json:"description,omitempty"`
	Author      string         `json:"author,omitempty"`
	AuthorName  string         `json:"author_name,omitempty"`
	Views       int64          `json:"views,omitempty"`
	Likes       int64          `json:"likes,omitempty"`
	Comments    int64          `json:"comments,omitempty"`
	Shares      int64          `json:"shares,omitempty"`
	PostedAt    *time.Time     `json:"posted_at,omitempty"`
	Hashtags    []string       `json:"hashtags,omitempty"`
	MusicTitle  string         `json:"music_title,omitempty"`
	MusicAuthor string         `json:"music_author,omitempty"`
	Duration    int            `json:"duration,omitempty"` // Seconds
	Raw         map[string]any `json:"raw,omitempty"`

	ContentURL  string `json:"content_url,omitempty"`
	LocalPath   string `json:"local_path,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
	Watermarked bool   `json:"watermarked"`

	ExternalID     string `json:"external_id,omitempty"`
	ExternalLink   string `json:"external_link,omitempty"`
	ExternalFolder string `json:"external_folder,omitempty"`
	MetadataID     string `json:"metadata_id,omitempty"`
	SubtitlePath   string `json:"subtitle_path,omitempty"`

	Status       ItemStatus `json:"status"`
	Attempts     int        `json:"attempts"`
	Error        string     `json:"error,omitempty"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	FetchedAt    *time.Time `json:"fetched_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// LocalSince is when the current local file was written. Items fetched before
// the stamp existed fall back to their discovery time.
func (i *Item) LocalSince() time.Time {
	if i.FetchedAt != nil {
		return *i.FetchedAt
	}
	return i.DiscoveredAt
}

// IsStored reports whether the item already has an external copy
func (i *Item) IsStored() bool {
	return i.ExternalID != ""
}

// ApplyDescriptor copies advisory discovery metadata onto the item
func (i *Item) ApplyDescriptor(d Descriptor) {
	i.URL = d.URL
	i.Description = d.Description
	i.Author = d.Author
	i.AuthorName = d.AuthorName
	i.Views, i.Likes, i.Comments, i.Shares = d.Views, d.Likes, d.Comments, d.Shares
	i.PostedAt = d.PostedAt
	i.Hashtags = d.Hashtags
	i.MusicTitle, i.MusicAuthor = d.MusicTitle, d.MusicAuthor
	i.Duration = d.Duration
	i.Raw = d.Raw
	if d.ContentURL != "" {
		i.ContentURL = d.ContentURL
	}
}

// Descriptor returns the discovery view of a stored item, used for retries
func (i *Item) Descriptor() Descriptor {
	return Descriptor{
		ID:          i.ID,
		URL:         i.URL,
		ContentURL:  i.ContentURL,
		Description: i.Description,
		Author:      i.Author,
		AuthorName:  i.AuthorName,
		PostedAt:    i.PostedAt,
		Hashtags:    i.Hashtags,
		Duration:    i.Duration,
	}
}

// WatchedSource is a source under continuous incremental polling
type WatchedSource struct {
	Value            string       `json:"value"`
	Mode             SelectorKind `json:"mode"`
	Enabled          bool         `json:"enabled"`
	IntervalMinutes  int          `json:"interval_minutes"`
	LastSeenID       string       `json:"last_seen_id,omitempty"`
	LastSeenPostedAt *time.Time   `json:"last_seen_posted_at,omitempty"`
	RecentIDs        []string     `json:"recent_ids,omitempty"` // Newest first, bounded
	LastPollAt       *time.Time   `json:"last_poll_at,omitempty"`
	LastNewAt        *time.Time   `json:"last_new_at,omitempty"`
	PollCount        int          `json:"poll_count"`
	NewItemCount     int          `json:"new_item_count"`
	LastError        string       `json:"last_error,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// MaxRecentIDs bounds how many previously seen ids a source remembers
const MaxRecentIDs = 50

// Interval returns the polling interval as a duration
func (s *WatchedSource) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// IsDue reports whether the source should be polled at now
func (s *WatchedSource) IsDue(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.LastPollAt == nil {
		return true
	}
	return now.Sub(*s.LastPollAt) >= s.Interval()
}

// NextPollAt returns when the source becomes due again
func (s *WatchedSource) NextPollAt() time.Time {
	if s.LastPollAt == nil {
		return time.Time{}
	}
	return s.LastPollAt.Add(s.Interval())
}

// HasSeen reports whether id was observed by an earlier poll
func (s *WatchedSource) HasSeen(id string) bool {
	if id == s.LastSeenID {
		return true
	}
	for _, seen := range s.RecentIDs {
		if seen == id {
			return true
		}
	}
	return false
}

// RememberID advances the last-seen marker and records id in the bounded history
func (s *WatchedSource) RememberID(id string, postedAt *time.Time) {
	s.LastSeenID = id
	if postedAt != nil {
		s.LastSeenPostedAt = postedAt
	}
	s.RecentIDs = append([]string{id}, s.RecentIDs...)
	if len(s.RecentIDs) > MaxRecentIDs {
		s.RecentIDs = s.RecentIDs[:MaxRecentIDs]
	}
}

// RecurrenceTemplate is a saved job shape fired on a fixed interval
type RecurrenceTemplate struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Mode            SelectorKind `json:"mode"`
	Value           string       `json:"value"`
	Limit           int          `json:"limit"`
	NoWatermark     bool         `json:"no_watermark"`
	FolderOverride  string       `json:"folder_override,omitempty"`
	IntervalMinutes int          `json:"interval_minutes"`
	Enabled         bool         `json:"enabled"`
	LastRunAt       *time.Time   `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time   `json:"next_run_at,omitempty"`
	TotalRuns       int          `json:"total_runs"`
	SuccessfulRuns  int          `json:"successful_runs"`
	FailedRuns      int          `json:"failed_runs"`
	LastJobID       string       `json:"last_job_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Interval returns the firing interval as a duration
func (t *RecurrenceTemplate) Interval() time.Duration {
	return time.Duration(t.IntervalMinutes) * time.Minute
}

// Query is what the discovery collaborator is asked for
type Query struct {
	Mode  SelectorKind
	Value string
	Limit int
	Since *time.Time
	Until *time.Time
}

// InWindow reports whether a posting time falls inside the query's optional window.
// Items without a known posting time are always kept.
func (q Query) InWindow(postedAt *time.Time) bool {
	if postedAt == nil {
		return true
	}
	if q.Since != nil && postedAt.Before(*q.Since) {
		return false
	}
	if q.Until != nil && postedAt.After(*q.Until) {
		return false
	}
	return true
}

// Descriptor is one discovered item as reported by a discovery strategy
type Descriptor struct {
	ID          string         `json:"id"`
	URL         string         `json:"url"`
	ContentURL  string         `json:"content_url,omitempty"`
	Description string         `json:"description,omitempty"`
	Author      string         `json:"author,omitempty"`
	AuthorName  string         `json:"author_name,omitempty"`
	Views       int64          `json:"views,omitempty"`
	Likes       int64          `json:"likes,omitempty"`
	Comments    int64          `json:"comments,omitempty"`
	Shares      int64          `json:"shares,omitempty"`
	PostedAt    *time.Time     `json:"posted_at,omitempty"`
	Hashtags    []string       `json:"hashtags,omitempty"`
	MusicTitle  string         `json:"music_title,omitempty"`
	MusicAuthor string         `json:"music_author,omitempty"`
	Duration    int            `json:"duration,omitempty"`
	Raw         map[string]any `json:"raw,omitempty"`
}

// FetchResult is what a fetch strategy reports on success
type FetchResult struct {
	LocalPath   string
	Size        int64
	Watermarked bool
	Strategy    string
}

// StoreResult is what a store strategy reports on success
type StoreResult struct {
	ExternalID string
	Link       string
	Folder     string
	MetadataID string
	Strategy   string
}

// NormalizeValue strips the selector sigil (@ for profiles, # for hashtags) and surrounding space
func NormalizeValue(mode SelectorKind, value string) string {
	v := strings.TrimSpace(value)
	switch mode {
	case SelectorProfile:
		v = strings.TrimPrefix(v, "@")
	case SelectorHashtag:
		v = strings.TrimPrefix(v, "#")
	}
	return strings.TrimSpace(v)
}

// Stats aggregates counts across all record collections
type Stats struct {
	Jobs            map[JobStatus]int  `json:"jobs"`
	TotalJobs       int                `json:"total_jobs"`
	Items           map[ItemStatus]int `json:"items"`
	TotalItems      int                `json:"total_items"`
	StorageBytes    int64              `json:"storage_bytes"`
	Templates       int                `json:"templates"`
	ActiveTemplates int                `json:"active_templates"`
	Sources         int                `json:"sources"`
	EnabledSources  int                `json:"enabled_sources"`
	QueueDepth      int                `json:"queue_depth"`
}
