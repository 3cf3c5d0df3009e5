package sources

import (
	"regexp"
	"strings"
)

var (
	videoIDPattern     = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)
	watchPattern       = regexp.MustCompile(`[?&]v=([a-zA-Z0-9_-]{11})`)
	shortLinkPattern   = regexp.MustCompile(`youtu\.be/([a-zA-Z0-9_-]{11})`)
	embedPattern       = regexp.MustCompile(`youtube\.com/(?:embed|v|shorts)/([a-zA-Z0-9_-]{11})`)
	channelHandleURL   = regexp.MustCompile(`youtube\.com/@([a-zA-Z0-9_.-]+)`)
	channelIDURL       = regexp.MustCompile(`youtube\.com/channel/([a-zA-Z0-9_-]+)`)
	instagramPostURL   = regexp.MustCompile(`instagram\.com/(?:p|reel)/([a-zA-Z0-9_-]+)`)
	instagramUserURL   = regexp.MustCompile(`instagram\.com/([a-zA-Z0-9._]+)`)
	instagramUserShape = regexp.MustCompile(`^[a-zA-Z0-9._]+$`)
)

// YouTubeVideoID extracts a video id from a watch/short/embed URL or returns the trimmed input.
func YouTubeVideoID(input string) string {
	clean := strings.TrimSpace(input)
	if videoIDPattern.MatchString(clean) {
		return clean
	}
	for _, pattern := range []*regexp.Regexp{watchPattern, shortLinkPattern, embedPattern} {
		if m := pattern.FindStringSubmatch(clean); m != nil {
			return m[1]
		}
	}
	return clean
}

// YouTubeChannelID extracts a channel id or handle, dropping any leading '@'.
func YouTubeChannelID(input string) string {
	clean := strings.TrimSpace(input)
	if m := channelHandleURL.FindStringSubmatch(clean); m != nil {
		return m[1]
	}
	if m := channelIDURL.FindStringSubmatch(clean); m != nil {
		return m[1]
	}
	return strings.TrimPrefix(clean, "@")
}

// InstagramUsername extracts a username from a profile URL or handle.
func InstagramUsername(input string) string {
	clean := strings.TrimSpace(input)
	if m := instagramUserURL.FindStringSubmatch(clean); m != nil {
		return m[1]
	}
	return strings.TrimPrefix(clean, "@")
}

// InstagramShortcode extracts a post shortcode from a post URL or returns the trimmed input.
func InstagramShortcode(input string) string {
	clean := strings.TrimSpace(input)
	if m := instagramPostURL.FindStringSubmatch(clean); m != nil {
		return m[1]
	}
	return clean
}

// ExtractResourceID normalises URLs, handles and raw ids into the bare identifier.
// Recognised forms are YouTube videos and channels and Instagram posts and profiles.
func ExtractResourceID(input string) string {
	clean := strings.TrimSpace(input)

	switch {
	case strings.Contains(clean, "youtube.com/watch"),
		strings.Contains(clean, "youtu.be/"),
		strings.Contains(clean, "youtube.com/shorts/"),
		strings.Contains(clean, "youtube.com/embed/"),
		videoIDPattern.MatchString(clean):
		return YouTubeVideoID(clean)
	case strings.Contains(clean, "youtube.com/@"),
		strings.Contains(clean, "youtube.com/channel/"):
		return YouTubeChannelID(clean)
	case strings.Contains(clean, "instagram.com/p/"),
		strings.Contains(clean, "instagram.com/reel/"):
		return InstagramShortcode(clean)
	case strings.Contains(clean, "instagram.com/"):
		return InstagramUsername(clean)
	case strings.HasPrefix(clean, "@"):
		return strings.TrimPrefix(clean, "@")
	case instagramUserShape.MatchString(clean):
		return clean
	}
	return strings.TrimPrefix(clean, "@")
}

// NormalizeResourceID applies the platform specific extraction for a resource kind.
func NormalizeResourceID(platform, kind, input string) string {
	switch platform {
	case "youtube":
		if kind == KindVideo {
			return YouTubeVideoID(input)
		}
		if kind == KindChannel {
			return YouTubeChannelID(input)
		}
	case "instagram":
		if kind == KindPost {
			return InstagramShortcode(input)
		}
		if kind == KindProfile {
			return InstagramUsername(input)
		}
	}
	return ExtractResourceID(input)
}
