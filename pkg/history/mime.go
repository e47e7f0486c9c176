package history

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// FallbackMIME is used when content sniffing cannot name a concrete type.
const FallbackMIME = "image/jpeg"

var genericMIME = map[string]bool{
	"":                         true,
	"application/octet-stream": true,
	"binary/octet-stream":      true,
}

// IsGenericMIME reports whether mimeType carries no usable type information.
func IsGenericMIME(mimeType string) bool {
	return genericMIME[strings.ToLower(strings.TrimSpace(mimeType))]
}

// NormalizeMIME returns mimeType unchanged unless it is generic, in which
// case the type is sniffed from data.
func NormalizeMIME(mimeType string, data []byte) string {
	if !IsGenericMIME(mimeType) {
		return mimeType
	}
	if len(data) > 0 {
		detected := mimetype.Detect(data)
		if detected != nil && !IsGenericMIME(detected.String()) && !strings.HasPrefix(detected.String(), "text/plain") {
			return baseType(detected.String())
		}
	}
	return FallbackMIME
}

func baseType(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		return strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}
