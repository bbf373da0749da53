package normalize

import (
	"encoding/base64"
	"errors"
	"strings"
)

const jpegDataURLPrefix = "data:image/jpeg;base64,"

// DataURL renders a JPEG payload as the encoded-image string stored in the
// durable record.
func DataURL(jpegData []byte) string {
	return jpegDataURLPrefix + base64.StdEncoding.EncodeToString(jpegData)
}

// ParseDataURL is the inverse of DataURL. Any base64 data URL with an image
// media type is accepted.
func ParseDataURL(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "data:image/") {
		return nil, errors.New("not an image data URL")
	}
	meta, payload, ok := strings.Cut(s, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, errors.New("data URL is not base64 encoded")
	}
	return base64.StdEncoding.DecodeString(payload)
}
