package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// =============================================================================
// Platform Tests
// =============================================================================

func TestPlatform_String(t *testing.T) {
	tests := []struct {
		name string
		p    Platform
		want string
	}{
		{"youtube", PlatformYouTube, "YouTube"},
		{"tiktok", PlatformTikTok, "TikTok"},
		{"unknown", PlatformUnknown, "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.String(); got != tt.want {
				t.Errorf("Platform.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPlatform_IsKnown(t *testing.T) {
	tests := []struct {
		p    Platform
		want bool
	}{
		{PlatformYouTube, true},
		{PlatformInstagram, true},
		{PlatformTikTok, true},
		{PlatformFacebook, true},
		{PlatformUnknown, false},
		{Platform("Vimeo"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.p), func(t *testing.T) {
			if got := tt.p.IsKnown(); got != tt.want {
				t.Errorf("IsKnown() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// CachedInfo Tests
// =============================================================================

func TestCachedInfo_Expired(t *testing.T) {
	expires := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	entry := &CachedInfo{URL: "https://youtu.be/abc", ExpiresAt: expires}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before expiry", expires.Add(-time.Second), false},
		{"at expiry", expires, true},
		{"after expiry", expires.Add(time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entry.Expired(tt.now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Error Tests
// =============================================================================

func TestFetchError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *FetchError
		wantMsg string
	}{
		{
			name:    "with URL",
			err:     NewFetchError("fetch info", "https://youtu.be/abc", errors.New("timeout")),
			wantMsg: "fetch info [https://youtu.be/abc]: timeout",
		},
		{
			name:    "without URL",
			err:     NewFetchError("fetch info", "", errors.New("timeout")),
			wantMsg: "fetch info: timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("FetchError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestFetchError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("%w: yt-dlp exited 1", ErrUpstream)
	err := NewFetchError("open stream", "https://youtu.be/abc", inner)

	if got := err.Unwrap(); got != inner {
		t.Errorf("Unwrap() = %v, want %v", got, inner)
	}
	if !errors.Is(err, ErrUpstream) {
		t.Error("errors.Is should see through to ErrUpstream")
	}
	if errors.Is(err, ErrInvalidInput) {
		t.Error("errors.Is should not match an unrelated sentinel")
	}
}

func TestDomainErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrInvalidInput", ErrInvalidInput},
		{"ErrRateLimited", ErrRateLimited},
		{"ErrUpstream", ErrUpstream},
		{"ErrImageUpstream", ErrImageUpstream},
		{"ErrImageFetch", ErrImageFetch},
		{"ErrCacheMiss", ErrCacheMiss},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				t.Error("Error should not be nil")
			}
			if tt.err.Error() == "" {
				t.Error("Error message should not be empty")
			}
		})
	}
}
