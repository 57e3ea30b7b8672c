// Package ingest normalizes provider result payloads and merges them into the
// canonical record store.
package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SkipError marks a single raw item that cannot be mapped into the canonical
// shape. It is counted per item and never fails the batch.
type SkipError struct {
	Field  string
	Reason string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("item skipped: field %q %s", e.Field, e.Reason)
}

// MappedItem is the canonical shape produced by the field map. PostID is the
// only hard requirement; everything else degrades to zero values.
type MappedItem struct {
	PostID       string
	AuthorHandle string
	Content      string
	PublishedAt  *time.Time
	Likes        int64
	Comments     int64
	Shares       int64
	Raw          json.RawMessage
}

// fieldAlternatives lists, in priority order, the provider field names that may
// carry one canonical field. Provider payloads drift across versions without a
// versioning signal, so every known historical name stays listed.
type fieldAlternatives []string

// platformFieldMap translates one platform's raw records.
type platformFieldMap struct {
	postID      fieldAlternatives
	author      fieldAlternatives
	content     fieldAlternatives
	publishedAt fieldAlternatives
	likes       fieldAlternatives
	comments    fieldAlternatives
	shares      fieldAlternatives
}

// fieldMaps is the explicit, per-platform mapping table. Unknown platforms are
// rejected rather than guessed at.
var fieldMaps = map[string]platformFieldMap{
	"instagram": {
		postID:      fieldAlternatives{"post_id", "pk", "id"},
		author:      fieldAlternatives{"user_posted", "username", "owner_username"},
		content:     fieldAlternatives{"description", "caption"},
		publishedAt: fieldAlternatives{"date_posted", "timestamp", "taken_at"},
		likes:       fieldAlternatives{"likes", "like_count"},
		comments:    fieldAlternatives{"num_comments", "comment_count"},
		shares:      fieldAlternatives{"shares", "share_count"},
	},
	"tiktok": {
		postID:      fieldAlternatives{"post_id", "video_id", "id"},
		author:      fieldAlternatives{"profile_username", "author_name", "unique_id"},
		content:     fieldAlternatives{"description", "title"},
		publishedAt: fieldAlternatives{"date_posted", "create_time"},
		likes:       fieldAlternatives{"digg_count", "likes"},
		comments:    fieldAlternatives{"comment_count", "num_comments"},
		shares:      fieldAlternatives{"share_count", "shares"},
	},
	"facebook": {
		postID:      fieldAlternatives{"post_id", "id"},
		author:      fieldAlternatives{"user_username_raw", "page_name", "author"},
		content:     fieldAlternatives{"content", "message", "post_text"},
		publishedAt: fieldAlternatives{"date_posted", "creation_time"},
		likes:       fieldAlternatives{"likes", "num_likes", "reactions_count"},
		comments:    fieldAlternatives{"num_comments", "comments_count"},
		shares:      fieldAlternatives{"num_shares", "shares_count"},
	},
	"x": {
		postID:      fieldAlternatives{"post_id", "tweet_id", "id"},
		author:      fieldAlternatives{"user_posted", "screen_name", "username"},
		content:     fieldAlternatives{"description", "full_text", "text"},
		publishedAt: fieldAlternatives{"date_posted", "created_at"},
		likes:       fieldAlternatives{"likes", "favorite_count"},
		comments:    fieldAlternatives{"replies", "reply_count"},
		shares:      fieldAlternatives{"reposts", "retweet_count"},
	},
}

// MapItem translates one raw provider record for the given platform into the
// canonical shape. A missing or unmappable post id yields a *SkipError.
func MapItem(platform string, raw json.RawMessage) (*MappedItem, error) {
	fm, ok := fieldMaps[platform]
	if !ok {
		return nil, fmt.Errorf("no field map for platform %q", platform)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &SkipError{Field: "(body)", Reason: "is not a JSON object"}
	}

	postID := firstString(fields, fm.postID)
	if postID == "" {
		return nil, &SkipError{Field: "post_id", Reason: "is missing"}
	}

	item := &MappedItem{
		PostID:       postID,
		AuthorHandle: firstString(fields, fm.author),
		Content:      firstString(fields, fm.content),
		PublishedAt:  firstTime(fields, fm.publishedAt),
		Likes:        firstCount(fields, fm.likes),
		Comments:     firstCount(fields, fm.comments),
		Shares:       firstCount(fields, fm.shares),
		Raw:          raw,
	}
	return item, nil
}

func firstString(fields map[string]any, names fieldAlternatives) string {
	for _, name := range names {
		v, ok := fields[name]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed
			}
		case float64:
			// Numeric ids arrive as numbers in some payload versions.
			return strconv.FormatInt(int64(s), 10)
		}
	}
	return ""
}

// firstCount coerces the first present numeric-ish field to a non-negative
// count. Negative values are a provider artifact and clamp to zero.
func firstCount(fields map[string]any, names fieldAlternatives) int64 {
	for _, name := range names {
		v, ok := fields[name]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return clampCount(int64(n))
		case string:
			parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
			if err != nil {
				continue
			}
			return clampCount(parsed)
		}
	}
	return 0
}

func clampCount(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

// timestampLayouts are the textual timestamp formats observed in provider
// payloads, tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func firstTime(fields map[string]any, names fieldAlternatives) *time.Time {
	for _, name := range names {
		v, ok := fields[name]
		if !ok || v == nil {
			continue
		}
		switch ts := v.(type) {
		case string:
			for _, layout := range timestampLayouts {
				if parsed, err := time.Parse(layout, strings.TrimSpace(ts)); err == nil {
					utc := parsed.UTC()
					return &utc
				}
			}
		case float64:
			// Unix seconds.
			if ts > 0 {
				utc := time.Unix(int64(ts), 0).UTC()
				return &utc
			}
		}
	}
	return nil
}
