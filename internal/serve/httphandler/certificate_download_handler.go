package httphandler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bodasure/bodasure-backend/internal/serve/httperror"
	"github.com/bodasure/bodasure-backend/internal/storage"
)

// CertificateDownloadHandler resolves signed download tokens minted by the
// filesystem storage client and streams the certificate back. It is only
// mounted when filesystem storage is configured; with S3 the signed URLs
// point at the bucket directly.
type CertificateDownloadHandler struct {
	Storage *storage.FilesystemClient
}

func (h CertificateDownloadHandler) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	token := chi.URLParam(req, "token")

	key, err := h.Storage.VerifyDownloadToken(token)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrExpiredDownloadToken):
			httperror.NewHTTPError(http.StatusGone, "The download link has expired", err, nil).Render(rw)
		case errors.Is(err, storage.ErrInvalidDownloadToken):
			httperror.NotFound("", err, nil).Render(rw)
		default:
			httperror.InternalError(ctx, "Cannot verify the download link", err, nil).Render(rw)
		}
		return
	}

	content, err := h.Storage.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			httperror.NotFound("", err, nil).Render(rw)
		} else {
			httperror.InternalError(ctx, "Cannot read the certificate", err, nil).Render(rw)
		}
		return
	}

	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write(content)
}
