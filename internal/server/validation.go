// validation.go - Sanitizing of client supplied upload metadata.
package server

import (
	"mime"
	"net/http"
	"strings"
)

// HeaderContentTypeHint lets an uploader choose the Content-Type the object
// is later served with. The regular Content-Type header describes the
// request encoding and is ignored.
const HeaderContentTypeHint = "X-Content-Type"

// DefaultContentType is used when no usable hint was sent.
const DefaultContentType = "text/html"

// contentTypeHint returns the normalized media type requested by the
// uploader, or DefaultContentType when the header is absent or malformed.
func contentTypeHint(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get(HeaderContentTypeHint))
	if raw == "" {
		return DefaultContentType
	}

	mediaType, params, err := mime.ParseMediaType(raw)
	if err != nil {
		return DefaultContentType
	}

	formatted := mime.FormatMediaType(mediaType, params)
	if formatted == "" {
		return DefaultContentType
	}
	return formatted
}
