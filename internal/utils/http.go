package utils

import (
	"mime"
	"net/http"
)

// HasContentType reports whether the request's Content-Type matches the given
// media type. The header is parsed with mime.ParseMediaType so parameters
// like boundary and charset don't break the comparison.
func HasContentType(r *http.Request, expected string) bool {
	if r == nil {
		return false
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return false
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return mediaType == expected
}

// IsMultipartFormData reports whether the request carries a multipart form,
// the shape the rider CSV import endpoint accepts.
func IsMultipartFormData(r *http.Request) bool {
	return HasContentType(r, "multipart/form-data")
}
