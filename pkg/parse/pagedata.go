package parse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

// stateScripts are the script ids that carry the page's embedded JSON state, in lookup order
var stateScripts = []string{
	"__UNIVERSAL_DATA_FOR_REHYDRATION__",
	"SIGI_STATE",
	"__NEXT_DATA__",
}

// contentFields name the video fields holding a playable address, preferred first
var contentFields = []string{"downloadAddr", "playAddr", "playbackUrl"}

var (
	contentScanRes = []*regexp.Regexp{
		regexp.MustCompile(`"downloadAddr":"([^"]+)"`),
		regexp.MustCompile(`"playAddr":"([^"]+)"`),
		regexp.MustCompile(`"playbackUrl":"([^"]+)"`),
		regexp.MustCompile(`"UrlList":\["([^"]+)"`),
	}
	itemIDScanRe = regexp.MustCompile(`/video/(\d{19})`)
)

// ExtractState returns the first embedded JSON state blob found in the page
func ExtractState(doc *goquery.Document) (map[string]any, error) {
	for _, id := range stateScripts {
		text := strings.TrimSpace(doc.Find("script#" + id).First().Text())
		if text == "" {
			continue
		}
		var state map[string]any
		if err := json.Unmarshal([]byte(text), &state); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", utils.ErrParsing, id, err)
		}
		return state, nil
	}
	return nil, fmt.Errorf("%w: no embedded state script", utils.ErrParsing)
}

// ItemsFromState collects item records from the known state layouts, in page order
// where the layout keeps one. Duplicate ids are dropped.
func ItemsFromState(state map[string]any, baseURL string) []models.Descriptor {
	var raws []map[string]any

	// SIGI layout: ItemList.<key>.list gives order, ItemModule holds the records
	if module, ok := state["ItemModule"].(map[string]any); ok {
		ordered := orderedIDs(state)
		for _, id := range ordered {
			if rec, ok := module[id].(map[string]any); ok {
				raws = append(raws, rec)
			}
		}
		for _, v := range module {
			if rec, ok := v.(map[string]any); ok {
				raws = append(raws, rec)
			}
		}
	}

	// Rehydration layout: __DEFAULT_SCOPE__ holds per-page sections
	if scope, ok := state["__DEFAULT_SCOPE__"].(map[string]any); ok {
		if detail, ok := scope["webapp.video-detail"].(map[string]any); ok {
			if rec := dig(detail, "itemInfo", "itemStruct"); rec != nil {
				raws = append(raws, rec)
			}
		}
		for _, section := range scope {
			if m, ok := section.(map[string]any); ok {
				raws = append(raws, mapsIn(m["itemList"])...)
			}
		}
	}

	// Any top-level itemList
	raws = append(raws, mapsIn(state["itemList"])...)

	seen := make(map[string]struct{})
	var out []models.Descriptor
	for _, raw := range raws {
		d, ok := DescriptorFromItem(raw, baseURL)
		if !ok {
			continue
		}
		if _, dup := seen[d.ID]; dup {
			continue
		}
		seen[d.ID] = struct{}{}
		out = append(out, d)
	}
	return out
}

// DescriptorFromItem maps one raw item record onto a descriptor.
// Returns false when the record carries no id.
func DescriptorFromItem(raw map[string]any, baseURL string) (models.Descriptor, bool) {
	video, _ := raw["video"].(map[string]any)
	id := str(raw["id"])
	if id == "" && video != nil {
		id = str(video["id"])
	}
	if id == "" {
		return models.Descriptor{}, false
	}

	d := models.Descriptor{ID: id, Raw: raw}

	switch author := raw["author"].(type) {
	case map[string]any:
		d.Author = str(author["uniqueId"])
		if d.Author == "" {
			d.Author = str(author["username"])
		}
		d.AuthorName = str(author["nickname"])
	case string:
		d.Author = author
		d.AuthorName = str(raw["nickname"])
	}

	d.Description = str(raw["desc"])
	if d.Description == "" {
		d.Description = str(raw["description"])
	}

	if stats, ok := raw["stats"].(map[string]any); ok {
		d.Views = firstInt(stats, "playCount", "viewCount")
		d.Likes = firstInt(stats, "diggCount", "likeCount")
		d.Comments = firstInt(stats, "commentCount")
		d.Shares = firstInt(stats, "shareCount")
	}

	if ts := firstInt(raw, "createTime", "createdAt"); ts > 0 {
		posted := time.Unix(ts, 0).UTC()
		d.PostedAt = &posted
	}

	for _, key := range []string{"challenges", "textExtra"} {
		for _, c := range mapsIn(raw[key]) {
			tag := str(c["title"])
			if tag == "" {
				tag = str(c["hashtagName"])
			}
			if tag = strings.TrimPrefix(tag, "#"); tag != "" {
				d.Hashtags = append(d.Hashtags, tag)
			}
		}
		if len(d.Hashtags) > 0 {
			break
		}
	}

	if music, ok := raw["music"].(map[string]any); ok {
		d.MusicTitle = str(music["title"])
		d.MusicAuthor = str(music["authorName"])
	}

	if video != nil {
		d.ContentURL = ContentURL(video)
		d.Duration = int(firstInt(video, "duration"))
	}
	if d.ContentURL == "" {
		d.ContentURL = ContentURL(raw)
	}
	if d.Duration == 0 {
		d.Duration = int(firstInt(raw, "duration"))
	}

	d.URL = ItemURL(baseURL, d.Author, id)
	return d, true
}

// ContentURL returns the first playable address in a video record.
// Addresses are either plain strings or objects carrying a UrlList.
func ContentURL(video map[string]any) string {
	for _, field := range contentFields {
		switch v := video[field].(type) {
		case string:
			if strings.HasPrefix(v, "http") {
				return v
			}
		case map[string]any:
			if list, ok := v["UrlList"].([]any); ok && len(list) > 0 {
				if s := str(list[0]); strings.HasPrefix(s, "http") {
					return s
				}
			}
			if s := str(v["url"]); strings.HasPrefix(s, "http") {
				return s
			}
		}
	}
	return ""
}

// ScanContentURL is the last-resort text scan for a playable address when no
// state blob decodes. JSON string escapes in the match are undone.
func ScanContentURL(html string) string {
	for _, re := range contentScanRes {
		m := re.FindStringSubmatch(html)
		if m == nil {
			continue
		}
		u, err := strconv.Unquote(`"` + m[1] + `"`)
		if err != nil {
			u = m[1]
		}
		if strings.HasPrefix(u, "http") {
			return u
		}
	}
	return ""
}

// ScanItemIDs finds item ids linked from the page, in first-seen order
func ScanItemIDs(doc *goquery.Document) []string {
	var ids []string
	seen := make(map[string]struct{})
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if m := itemIDScanRe.FindStringSubmatch(href); m != nil {
			add(m[1])
		}
	})
	if len(ids) == 0 {
		html, _ := doc.Html()
		for _, m := range itemIDScanRe.FindAllStringSubmatch(html, -1) {
			add(m[1])
		}
	}
	return ids
}

// MetaDescriptor builds a descriptor for a single item page from its og: meta tags
func MetaDescriptor(doc *goquery.Document) (models.Descriptor, bool) {
	meta := func(prop string) string {
		v, _ := doc.Find(`meta[property="` + prop + `"]`).First().Attr("content")
		return strings.TrimSpace(v)
	}
	pageURL := meta("og:url")
	id := ItemIDFromURL(pageURL)
	if id == "" {
		return models.Descriptor{}, false
	}
	d := models.Descriptor{
		ID:          id,
		URL:         pageURL,
		Description: meta("og:description"),
		ContentURL:  meta("og:video"),
	}
	if d.ContentURL == "" {
		d.ContentURL = meta("og:video:secure_url")
	}
	return d, true
}

// --- loose JSON helpers ---

func orderedIDs(state map[string]any) []string {
	var ids []string
	lists, ok := state["ItemList"].(map[string]any)
	if !ok {
		return nil
	}
	for _, v := range lists {
		section, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if list, ok := section["list"].([]any); ok {
			for _, id := range list {
				if s := str(id); s != "" {
					ids = append(ids, s)
				}
			}
		}
	}
	return ids
}

func dig(m map[string]any, keys ...string) map[string]any {
	cur := m
	for _, k := range keys {
		next, ok := cur[k].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func mapsIn(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	}
	return ""
}

func firstInt(m map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch t := m[k].(type) {
		case float64:
			if t != 0 {
				return int64(t)
			}
		case string:
			if n, err := strconv.ParseInt(t, 10, 64); err == nil && n != 0 {
				return n
			}
		}
	}
	return 0
}
