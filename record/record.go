// Package record defines the video metadata record cached by this module
// and its field-mapping and formatting helpers. It carries no storage or
// concurrency concerns; everything here is a pure transformation.
package record

import (
	"fmt"
	"time"
)

// Video is one metadata record, keyed by the external video identifier.
type Video struct {
	ID              string            `json:"id" msgpack:"id"`
	Title           string            `json:"title" msgpack:"title"`
	Channel         string            `json:"channel" msgpack:"channel"`
	DurationSeconds int               `json:"duration_seconds" msgpack:"duration_seconds"`
	PublishedAt     time.Time         `json:"published_at" msgpack:"published_at"`
	Thumbnails      map[string]string `json:"thumbnails" msgpack:"thumbnails"`
}

// CacheKey returns the cache key under which this record is stored.
func (v *Video) CacheKey() string {
	return "video:" + v.ID
}

// FromAPI builds a Video from a decoded generic payload, the shape API
// responses and deserialized cache values arrive in. Missing or mistyped
// fields are left at their zero values rather than failing the mapping.
func FromAPI(fields map[string]any) *Video {
	v := &Video{
		ID:              asString(fields["id"]),
		Title:           asString(fields["title"]),
		Channel:         asString(fields["channel"]),
		DurationSeconds: asInt(fields["duration_seconds"]),
		PublishedAt:     asTime(fields["published_at"]),
	}
	if thumbs, ok := fields["thumbnails"].(map[string]any); ok {
		v.Thumbnails = make(map[string]string, len(thumbs))
		for name, u := range thumbs {
			if s, ok := u.(string); ok {
				v.Thumbnails[name] = s
			}
		}
	} else if thumbs, ok := fields["thumbnails"].(map[string]string); ok {
		v.Thumbnails = make(map[string]string, len(thumbs))
		for name, u := range thumbs {
			v.Thumbnails[name] = u
		}
	}
	return v
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asInt accepts the integer shapes JSON and msgpack decoders produce.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	default:
		return 0
	}
}

// asTime accepts a time.Time (msgpack round-trips timestamps natively) or an
// RFC 3339 string (the JSON wire form).
func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}
		}
		return parsed
	default:
		return time.Time{}
	}
}

// FormatDuration renders a duration in whole seconds as M:SS, or H:MM:SS
// once it reaches an hour. Negative durations render as 0:00.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Published renders the record's age relative to now, e.g. "3 days ago".
// Records published in the future or with no timestamp render as "".
func (v *Video) Published(now time.Time) string {
	if v.PublishedAt.IsZero() {
		return ""
	}
	age := now.Sub(v.PublishedAt)
	if age < 0 {
		return ""
	}
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return plural(int(age.Minutes()), "minute")
	case age < 24*time.Hour:
		return plural(int(age.Hours()), "hour")
	case age < 365*24*time.Hour:
		return plural(int(age.Hours()/24), "day")
	default:
		return plural(int(age.Hours()/(24*365)), "year")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
