package custody

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultExtension is used when neither the declared content type nor the
// bytes identify a format.
const DefaultExtension = "mp4"

const octetStream = "application/octet-stream"

// ExtensionFor picks the stored extension (without the dot) for an
// artifact. A declared content type wins unless it is empty or
// application/octet-stream, in which case the bytes are sniffed.
func ExtensionFor(contentType string, data []byte) string {
	if ct := mediaType(contentType); ct != "" && ct != octetStream {
		if m := mimetype.Lookup(ct); m != nil && m.Extension() != "" {
			return strings.TrimPrefix(m.Extension(), ".")
		}
		return DefaultExtension
	}
	if len(data) > 0 {
		if m := mimetype.Detect(data); m != nil && !m.Is(octetStream) && m.Extension() != "" {
			return strings.TrimPrefix(m.Extension(), ".")
		}
	}
	return DefaultExtension
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return mt
}
