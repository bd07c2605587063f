package eventhandlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/events"
	"github.com/bodasure/bodasure-backend/internal/events/schemas"
	"github.com/bodasure/bodasure-backend/internal/services"
	"github.com/bodasure/bodasure-backend/internal/utils"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

// PaymentSettledEventHandler re-plans the policy a settled payment earns. The
// settlement transaction already plans it inline; this handler is the broker
// path converging on the same row, which the unique key on
// (rider_id, triggering_transaction_id) makes an idempotent no-op when the
// inline plan won.
type PaymentSettledEventHandler struct {
	models          *data.Models
	issuanceService services.IssuanceServiceInterface
}

var _ events.EventHandler = (*PaymentSettledEventHandler)(nil)

func NewPaymentSettledEventHandler(models *data.Models, issuanceService services.IssuanceServiceInterface) (*PaymentSettledEventHandler, error) {
	if models == nil {
		return nil, fmt.Errorf("models is required for NewPaymentSettledEventHandler")
	}
	if issuanceService == nil {
		return nil, fmt.Errorf("issuance service is required for NewPaymentSettledEventHandler")
	}
	return &PaymentSettledEventHandler{models: models, issuanceService: issuanceService}, nil
}

func (h *PaymentSettledEventHandler) Name() string {
	return "PaymentSettledEventHandler"
}

func (h *PaymentSettledEventHandler) CanHandleMessage(ctx context.Context, message *events.Message) bool {
	return message.Topic == events.PaymentSettledTopic
}

func (h *PaymentSettledEventHandler) Handle(ctx context.Context, message *events.Message) error {
	payload, err := utils.ConvertType[any, schemas.EventPaymentSettledData](message.Data)
	if err != nil {
		return fmt.Errorf("[%s] could not convert data to %T: %w", h.Name(), schemas.EventPaymentSettledData{}, err)
	}

	transaction, err := h.models.Transactions.Get(ctx, h.models.DBConnectionPool, payload.TransactionID)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			log.Ctx(ctx).Warnf("[%s] transaction %s does not exist, dropping the message", h.Name(), payload.TransactionID)
			return nil
		}
		return fmt.Errorf("[%s] getting transaction %s: %w", h.Name(), payload.TransactionID, err)
	}
	if transaction.Status != data.CompletedTransactionStatus {
		log.Ctx(ctx).Warnf("[%s] transaction %s is %s, only COMPLETED transactions earn policies", h.Name(), transaction.ID, transaction.Status)
		return nil
	}

	switch transaction.Type {
	case data.DepositTransactionType:
		if _, err = h.issuanceService.PlanOneMonthPolicy(ctx, h.models.DBConnectionPool, transaction); err != nil {
			return fmt.Errorf("[%s] planning one-month policy for transaction %s: %w", h.Name(), transaction.ID, err)
		}
	case data.DailyPaymentTransactionType:
		wallet, walletErr := h.models.Wallets.GetByRiderID(ctx, h.models.DBConnectionPool, transaction.RiderID)
		if walletErr != nil {
			return fmt.Errorf("[%s] getting wallet for rider %s: %w", h.Name(), transaction.RiderID, walletErr)
		}
		if !wallet.DailyPaymentsCompleted {
			return nil
		}
		if _, err = h.issuanceService.PlanElevenMonthPolicy(ctx, h.models.DBConnectionPool, transaction); err != nil {
			return fmt.Errorf("[%s] planning eleven-month policy for transaction %s: %w", h.Name(), transaction.ID, err)
		}
	}

	return nil
}
