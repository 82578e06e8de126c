package messaging

import (
	"encoding/base64"
	"net/http"
	"regexp"
	"strings"
)

var (
	markdownImagePattern = regexp.MustCompile(`!\[(.*?)\]\((.*?)\)`)
	markdownLinkPattern  = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\s)]+)\)`)
	sourceMarkerPattern  = regexp.MustCompile(`【[^】]*】`)
)

// Image is a picture referenced inline in an assistant reply.
type Image struct {
	URL     string
	Caption string
}

// ExtractImages pulls markdown image references out of text and returns the
// remaining prose plus the images in order of appearance. The alt text
// becomes the image caption.
func ExtractImages(text string) (string, []Image) {
	var images []Image
	for _, m := range markdownImagePattern.FindAllStringSubmatch(text, -1) {
		url := strings.TrimSpace(m[2])
		if url != "" {
			images = append(images, Image{URL: url, Caption: strings.TrimSpace(m[1])})
		}
	}
	cleaned := markdownImagePattern.ReplaceAllString(text, "")
	return strings.TrimSpace(cleaned), images
}

// RewriteForWhatsApp converts markdown the chat renderer does not understand
// into plain text: [label](url) becomes "label: url", bold markers collapse
// to WhatsApp's single asterisk, and citation markers are stripped.
func RewriteForWhatsApp(text string) string {
	out := markdownLinkPattern.ReplaceAllString(text, "$1: $2")
	out = strings.ReplaceAll(out, "**", "*")
	out = sourceMarkerPattern.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

// SplitSegments breaks a reply into at most max WhatsApp messages. Blank
// lines are the preferred boundary; a single overlong block falls back to
// line and then sentence boundaries. Segments beyond max are folded into the
// last one rather than dropped.
func SplitSegments(text string, max int) []string {
	if max <= 0 {
		max = 1
	}
	var segments []string
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			segments = append(segments, block)
		}
	}
	if len(segments) == 0 {
		return nil
	}
	if len(segments) == 1 && len(segments[0]) > 1000 {
		segments = splitLong(segments[0])
	}
	if len(segments) > max {
		tail := strings.Join(segments[max-1:], "\n\n")
		segments = append(segments[:max-1], tail)
	}
	return segments
}

func splitLong(block string) []string {
	var parts []string
	if strings.Contains(block, "\n") {
		parts = strings.Split(block, "\n")
	} else {
		parts = strings.SplitAfter(block, ". ")
	}
	var segments []string
	var current strings.Builder
	for _, p := range parts {
		if current.Len() > 0 && current.Len()+len(p) > 1000 {
			segments = append(segments, strings.TrimSpace(current.String()))
			current.Reset()
		}
		current.WriteString(p)
		if strings.Contains(block, "\n") {
			current.WriteString("\n")
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		segments = append(segments, s)
	}
	return segments
}

// SniffMimetype inspects the magic bytes of a base64 payload when the
// gateway omits the content type.
func SniffMimetype(payload string) string {
	raw, err := base64.StdEncoding.DecodeString(head(payload, 64))
	if err != nil || len(raw) < 4 {
		return "application/octet-stream"
	}
	// mp3 frames without an ID3 tag are not in the stdlib sniff table
	if raw[0] == 0xFF && raw[1]&0xE0 == 0xE0 {
		return "audio/mpeg"
	}
	return http.DetectContentType(raw)
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// keep a multiple of 4 so the prefix stays decodable
	return s[:n-n%4]
}
