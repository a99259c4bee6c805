// Package fingerprint derives the stable identities used as cache key
// components: content fingerprints from a source's durable identity and
// parameter fingerprints from the prompt/model tuple that produced an
// artifact.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var drivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`drive\.google\.com/file/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`drive\.google\.com/open\?id=([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`docs\.google\.com/.*?/d/([a-zA-Z0-9_-]+)`),
}

var youtubePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/watch\?.*v=([a-zA-Z0-9_-]{11})`),
}

// ExtractDriveID returns the Google Drive file ID embedded in a URL.
func ExtractDriveID(url string) (string, bool) {
	for _, pattern := range drivePatterns {
		if m := pattern.FindStringSubmatch(url); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// ExtractYouTubeID returns the YouTube video ID embedded in a URL.
func ExtractYouTubeID(url string) (string, bool) {
	for _, pattern := range youtubePatterns {
		if m := pattern.FindStringSubmatch(url); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// Content derives a stable content fingerprint for a media or document
// source. Hosted sources use the provider's durable file ID; local files use
// name plus size so re-uploads of the same deck hit the cache; anything else
// falls back to a hash of the raw reference.
func Content(source string) string {
	source = strings.TrimSpace(source)
	if source == "" {
		return ""
	}
	if id, ok := ExtractDriveID(source); ok {
		return "drive:" + id
	}
	if id, ok := ExtractYouTubeID(source); ok {
		return "yt:" + id
	}
	if info, err := os.Stat(source); err == nil && !info.IsDir() {
		return fmt.Sprintf("file:%s:%d", filepath.Base(source), info.Size())
	}
	return "ref:" + shortHash(source)
}

// Segment derives the content fingerprint for one segment of a source.
func Segment(contentFP string, index int) string {
	return fmt.Sprintf("%s#%d", contentFP, index)
}

// Params derives a parameter fingerprint from the model/prompt tuple used to
// produce an artifact. Changing any part invalidates prior cache entries
// without deleting them.
func Params(parts ...string) string {
	return shortHash(strings.Join(parts, "|"))
}

func shortHash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}
