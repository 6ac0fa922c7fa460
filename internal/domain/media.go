package domain

import "time"

// Platform identifies the site a video originates from.
type Platform string

const (
	PlatformYouTube   Platform = "YouTube"
	PlatformInstagram Platform = "Instagram"
	PlatformTikTok    Platform = "TikTok"
	PlatformFacebook  Platform = "Facebook"
	PlatformUnknown   Platform = "Unknown"
)

// String returns the string representation of the Platform.
func (p Platform) String() string {
	return string(p)
}

// IsKnown reports whether p is one of the supported platforms.
func (p Platform) IsKnown() bool {
	switch p {
	case PlatformYouTube, PlatformInstagram, PlatformTikTok, PlatformFacebook:
		return true
	}
	return false
}

// MediaInfo is the metadata returned to clients for a video link.
type MediaInfo struct {
	Title     string   `json:"title"`
	Thumbnail string   `json:"thumbnail"`
	Duration  *float64 `json:"duration"`
	Ext       string   `json:"ext,omitempty"`
	Platform  Platform `json:"platform"`
}

// CachedInfo is a MediaInfo stored under its normalized URL.
type CachedInfo struct {
	URL       string
	Info      MediaInfo
	ExpiresAt time.Time
}

// Expired reports whether the entry is stale at now.
func (c *CachedInfo) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Image is a fetched thumbnail ready to be relayed.
type Image struct {
	ContentType string
	Data        []byte
}
