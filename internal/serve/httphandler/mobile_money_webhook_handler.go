package httphandler

import (
	"io"
	"net/http"

	"github.com/bodasure/bodasure-backend/internal/serve/httperror"
	"github.com/bodasure/bodasure-backend/internal/serve/httpjson"
	"github.com/bodasure/bodasure-backend/internal/services"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

// maxCallbackBodySize caps the provider callback payload. Real callbacks are
// well under a kilobyte.
const maxCallbackBodySize int64 = 64 * 1024

// MobileMoneyWebhookHandler receives the provider's STK-push result callback.
// The provider retries on non-2xx answers, so everything past a parse failure
// answers 200 even when our side could not apply the result.
type MobileMoneyWebhookHandler struct {
	PaymentService services.PaymentServiceInterface
}

type mobileMoneyWebhookResponse struct {
	ResultCode        int    `json:"ResultCode"`
	ResultDescription string `json:"ResultDesc"`
}

func (h MobileMoneyWebhookHandler) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	rawPayload, err := io.ReadAll(io.LimitReader(req.Body, maxCallbackBodySize))
	if err != nil {
		httperror.BadRequest("Cannot read the callback payload", err, nil).Render(rw)
		return
	}

	if _, err = h.PaymentService.HandleCallback(ctx, rawPayload); err != nil {
		// The request row stays in place for the reconcile job, so the
		// provider must not keep re-delivering this payload.
		log.Ctx(ctx).WithError(err).Error("applying mobile money callback")
	}

	httpjson.Render(rw, mobileMoneyWebhookResponse{ResultCode: 0, ResultDescription: "Accepted"}, httpjson.JSON)
}
