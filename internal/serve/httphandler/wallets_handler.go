package httphandler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/serve/httperror"
	"github.com/bodasure/bodasure-backend/internal/serve/httpjson"
)

// WalletsHandler reads a rider's premium wallet.
type WalletsHandler struct {
	Models *data.Models
}

func (h WalletsHandler) GetWalletByRiderID(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	riderID := chi.URLParam(req, "riderID")

	wallet, err := h.Models.Wallets.GetByRiderID(ctx, h.Models.DBConnectionPool, riderID)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			httperror.NotFound("Wallet not found for this rider", err, nil).Render(rw)
		} else {
			httperror.InternalError(ctx, "Cannot retrieve wallet", err, nil).Render(rw)
		}
		return
	}

	httpjson.Render(rw, wallet, httpjson.JSON)
}
