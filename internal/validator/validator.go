// Package validator classifies user-supplied links and rejects any that could
// turn the proxy into a tool for reaching hosts it was never meant to reach.
//
// Destination hosts are allow-listed, never block-listed. Videos and images
// have separate allow-lists so that a thumbnail CDN host cannot be used to
// stream and a video host cannot be used as an image proxy.
package validator

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/iconidentify/vidrelay/internal/domain"
)

// MaxURLLength is the longest raw URL accepted, in bytes.
const MaxURLLength = 2000

// ValidationError is a client-caused rejection. Every ValidationError
// matches domain.ErrInvalidInput under errors.Is.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

// Is makes every ValidationError match domain.ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	return target == domain.ErrInvalidInput
}

// Validation errors.
var (
	ErrEmptyURL            = &ValidationError{"URL is empty"}
	ErrURLTooLong          = &ValidationError{"URL is too long"}
	ErrInvalidURL          = &ValidationError{"invalid URL"}
	ErrUnsupportedScheme   = &ValidationError{"only http/https URLs are allowed"}
	ErrHostNotAllowed      = &ValidationError{"host not allowed"}
	ErrUnsupportedPlatform = &ValidationError{"unsupported platform"}
	ErrImageHostNotAllowed = &ValidationError{"image origin not allowed"}
)

// videoHosts are the hosts (and, implicitly, their subdomains) streams may be
// fetched from.
var videoHosts = []string{
	// YouTube
	"youtube.com",
	"www.youtube.com",
	"m.youtube.com",
	"youtu.be",

	// Instagram
	"instagram.com",
	"www.instagram.com",

	// TikTok
	"tiktok.com",
	"www.tiktok.com",
	"vm.tiktok.com",
	"m.tiktok.com",

	// Facebook
	"facebook.com",
	"www.facebook.com",
	"m.facebook.com",
	"fb.watch",
	"fb.com",
	"www.fb.com",
}

// imageHosts are the thumbnail CDNs the image proxy may fetch from.
var imageHosts = []string{
	"i.ytimg.com",
	"ytimg.com",
	"fbcdn.net",
	"cdninstagram.com",
	"tiktokcdn.com",
	"tiktokv.com",
	"googleusercontent.com",
}

var privateHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"0.0.0.0":   true,
	"::1":       true,
}

var ipv4Literal = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}$`)

// VideoURL is a link that passed ValidateVideoURL.
type VideoURL struct {
	URL      string
	Platform domain.Platform
}

// ImageURL is a link that passed ValidateImageURL.
type ImageURL struct {
	URL string
}

// Classify maps a raw URL to the platform it belongs to. Unparseable input
// and unrecognised hosts yield domain.PlatformUnknown.
func Classify(raw string) domain.Platform {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return domain.PlatformUnknown
	}
	return classifyHost(strings.ToLower(u.Hostname()))
}

func classifyHost(host string) domain.Platform {
	switch {
	case host == "":
		return domain.PlatformUnknown
	case host == "youtu.be" || strings.HasSuffix(host, "youtube.com"):
		return domain.PlatformYouTube
	case strings.HasSuffix(host, "instagram.com"):
		return domain.PlatformInstagram
	case strings.HasSuffix(host, "tiktok.com"):
		return domain.PlatformTikTok
	case strings.HasSuffix(host, "facebook.com") || host == "fb.watch" || strings.HasSuffix(host, "fb.com"):
		return domain.PlatformFacebook
	}
	return domain.PlatformUnknown
}

// ValidateVideoURL checks raw against the structural and anti-SSRF rules and
// the video platform allow-list, stopping at the first failure.
func ValidateVideoURL(raw string) (VideoURL, error) {
	u, err := parse(raw)
	if err != nil {
		return VideoURL{}, err
	}

	host := u.Hostname()
	if !allowed(host, videoHosts) {
		return VideoURL{}, ErrUnsupportedPlatform
	}

	platform := classifyHost(host)
	if !platform.IsKnown() {
		return VideoURL{}, ErrUnsupportedPlatform
	}

	return VideoURL{URL: u.String(), Platform: platform}, nil
}

// ValidateImageURL applies the same structural rules as ValidateVideoURL but
// only admits thumbnail CDN hosts.
func ValidateImageURL(raw string) (ImageURL, error) {
	u, err := parse(raw)
	if err != nil {
		return ImageURL{}, err
	}

	if !allowed(u.Hostname(), imageHosts) {
		return ImageURL{}, ErrImageHostNotAllowed
	}

	return ImageURL{URL: u.String()}, nil
}

// parse runs the checks shared by both URL classes and returns the URL in
// canonical form: lower-case scheme and host, no credentials, no fragment.
func parse(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrEmptyURL
	}
	if len(trimmed) > MaxURLLength {
		return nil, ErrURLTooLong
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" {
		return nil, ErrInvalidURL
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, ErrUnsupportedScheme
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, ErrInvalidURL
	}

	if isPrivate(host) {
		return nil, ErrHostNotAllowed
	}
	if ipv4Literal.MatchString(host) {
		return nil, ErrHostNotAllowed
	}

	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	return u, nil
}

func isPrivate(host string) bool {
	if privateHosts[host] {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

func allowed(host string, list []string) bool {
	for _, h := range list {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
