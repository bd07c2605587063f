// Package httpjson renders JSON HTTP responses with the right content type
// and a body written only after successful encoding.
package httpjson

import (
	"encoding/json"
	"net/http"
)

type contentType int

const (
	JSON contentType = iota
)

var contentTypeHeaders = map[contentType]string{
	JSON: "application/json; charset=utf-8",
}

// Render writes v as a 200 response.
func Render(w http.ResponseWriter, v any, ct contentType) {
	RenderStatus(w, http.StatusOK, v, ct)
}

// RenderStatus writes v with the given status code. Encoding happens before
// any byte hits the wire, so an encoding failure still yields a clean 500.
func RenderStatus(w http.ResponseWriter, statusCode int, v any, ct contentType) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentTypeHeaders[ct])
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}
