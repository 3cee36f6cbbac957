package mailbox

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

var (
	blockTagRe  = regexp.MustCompile(`(?i)<(/?)(p|div|br|hr|h[1-6]|li|tr|td|th|blockquote|pre|table|ul|ol)[^>]*>`)
	scriptTagRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTagRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	headTagRe   = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	anchorRe    = regexp.MustCompile(`(?is)<a\s[^>]*href\s*=\s*["']([^"']+)["'][^>]*>(.*?)</a>`)
	tagRe       = regexp.MustCompile(`<[^>]*>`)
)

// StripHTML converts an HTML body to plain text. Anchor targets are kept
// inline as "label <url>" so links survive the conversion.
func StripHTML(rawHTML string) string {
	text := scriptTagRe.ReplaceAllString(rawHTML, "")
	text = styleTagRe.ReplaceAllString(text, "")
	text = headTagRe.ReplaceAllString(text, "")

	text = anchorRe.ReplaceAllString(text, "$2 <$1>")
	text = blockTagRe.ReplaceAllString(text, "\n")
	// Anchor targets were rewritten to "<url>" above; protect them from the
	// generic tag stripper.
	text = protectLinks(text)
	text = tagRe.ReplaceAllString(text, "")
	text = restoreLinks(text)
	text = html.UnescapeString(text)

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\u00a0", " ")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" && len(kept) > 0 && kept[len(kept)-1] == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

var linkRe = regexp.MustCompile(`<(https?://[^<>\s]+)>`)

const (
	linkOpen  = "\x00["
	linkClose = "]\x00"
)

func protectLinks(s string) string {
	return linkRe.ReplaceAllString(s, linkOpen+"$1"+linkClose)
}

func restoreLinks(s string) string {
	s = strings.ReplaceAll(s, linkOpen, "<")
	return strings.ReplaceAll(s, linkClose, ">")
}

// EnsureUTF8 returns s unchanged when it is valid UTF-8. Otherwise it tries
// charset detection, then common Western single-byte encodings, and finally
// replaces invalid bytes.
func EnsureUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	data := []byte(s)

	minConfidence := 30
	if len(data) > 50 {
		minConfidence = 50
	}
	if result, err := chardet.NewTextDetector().DetectBest(data); err == nil && result.Confidence >= minConfidence {
		if enc := encodingByName(result.Charset); enc != nil {
			if decoded, err := enc.NewDecoder().Bytes(data); err == nil && utf8.Valid(decoded) {
				return string(decoded)
			}
		}
	}

	for _, enc := range []encoding.Encoding{charmap.Windows1252, charmap.ISO8859_1, charmap.ISO8859_15} {
		if decoded, err := enc.NewDecoder().Bytes(data); err == nil && utf8.Valid(decoded) {
			return string(decoded)
		}
	}
	return strings.ToValidUTF8(s, "\ufffd")
}

func encodingByName(name string) encoding.Encoding {
	switch strings.ToLower(name) {
	case "windows-1252", "cp1252":
		return charmap.Windows1252
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1
	case "iso-8859-15", "latin9":
		return charmap.ISO8859_15
	case "iso-8859-2", "latin2":
		return charmap.ISO8859_2
	default:
		return nil
	}
}
