package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bibbank/reconciliation/internal/application/dto"
	"github.com/bibbank/reconciliation/internal/domain/model"
	"github.com/bibbank/reconciliation/internal/domain/valueobject"
	"github.com/bibbank/reconciliation/pkg/events"
	"github.com/bibbank/reconciliation/pkg/money"
	pkgkafka "github.com/bibbank/reconciliation/pkg/kafka"
)

// Event types announced by the invoicing side.
const (
	EventPayableCreated = "payable.created"
	EventPayableDeleted = "payable.deleted"
)

// PayableRegistrar records a newly announced payable.
type PayableRegistrar interface {
	Execute(ctx context.Context, req dto.RegisterPayableRequest) (dto.PayableResponse, error)
}

// PayableReverser reverses every allocation of deleted payables.
type PayableReverser interface {
	Execute(ctx context.Context, req dto.ReversePayablesRequest) (dto.ReversePayablesResponse, error)
}

// PayableUseCases are the use cases of one payable kind driven by the consumer.
type PayableUseCases struct {
	Register PayableRegistrar
	Reverse  PayableReverser
}

type payableCreatedPayload struct {
	PayableID      uuid.UUID       `json:"payable_id"`
	Kind           string          `json:"kind"`
	CurrencyID     int64           `json:"currency_id"`
	Total          decimal.Decimal `json:"total"`
	TaxWithholding decimal.Decimal `json:"tax_withholding"`
}

type payableDeletedPayload struct {
	PayableIDs []uuid.UUID `json:"payable_ids"`
	Kind       string      `json:"kind"`
}

// PayablesHandler consumes payable lifecycle events from the invoicing side.
type PayablesHandler struct {
	useCases map[valueobject.PayableKind]PayableUseCases
	logger   *slog.Logger
}

func NewPayablesHandler(useCases map[valueobject.PayableKind]PayableUseCases, logger *slog.Logger) *PayablesHandler {
	return &PayablesHandler{useCases: useCases, logger: logger.With("component", "payables_consumer")}
}

// Handle processes one message. Malformed messages are logged and
// acknowledged; errors returned leave the message uncommitted.
func (h *PayablesHandler) Handle(ctx context.Context, msg pkgkafka.Message) error {
	env, err := events.DecodeEnvelope(msg.Value)
	if err != nil {
		h.logger.Error("dropping malformed message", "topic", msg.Topic, "error", err)
		return nil
	}

	switch env.EventType {
	case EventPayableCreated:
		err = h.handleCreated(ctx, env)
	case EventPayableDeleted:
		err = h.handleDeleted(ctx, env)
	default:
		h.logger.Debug("ignoring event", "event_type", env.EventType, "event_id", env.EventID)
		return nil
	}

	if errors.Is(err, errMalformed) {
		h.logger.Error("dropping malformed event", "event_type", env.EventType, "event_id", env.EventID, "error", err)
		return nil
	}
	return err
}

var errMalformed = errors.New("malformed payable event")

func (h *PayablesHandler) handleCreated(ctx context.Context, env events.Envelope) error {
	var p payableCreatedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %w", errMalformed, err)
	}
	if p.PayableID == uuid.Nil {
		p.PayableID = env.AggregateID
	}
	uc, err := h.forKind(p.Kind)
	if err != nil {
		return err
	}

	resp, err := uc.Register.Execute(ctx, dto.RegisterPayableRequest{
		ID:             p.PayableID,
		CurrencyID:     p.CurrencyID,
		Total:          p.Total,
		TaxWithholding: p.TaxWithholding,
	})
	switch {
	case errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, model.ErrCurrencyNotFound),
		errors.Is(err, money.ErrCurrencyMismatch),
		errors.Is(err, money.ErrOverflow):
		return fmt.Errorf("%w: %w", errMalformed, err)
	case err != nil:
		return err
	}

	h.logger.Info("payable registered from event", "payable_id", resp.ID, "kind", resp.Kind)
	return nil
}

func (h *PayablesHandler) handleDeleted(ctx context.Context, env events.Envelope) error {
	var p payableDeletedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %w", errMalformed, err)
	}
	if len(p.PayableIDs) == 0 && env.AggregateID != uuid.Nil {
		p.PayableIDs = []uuid.UUID{env.AggregateID}
	}
	uc, err := h.forKind(p.Kind)
	if err != nil {
		return err
	}

	// One call per payable so an unknown ID does not block the others.
	for _, id := range p.PayableIDs {
		resp, err := uc.Reverse.Execute(ctx, dto.ReversePayablesRequest{PayableIDs: []uuid.UUID{id}})
		if errors.Is(err, model.ErrPayableNotFound) {
			h.logger.Warn("deleted payable is unknown", "payable_id", id)
			continue
		}
		if err != nil {
			return err
		}
		h.logger.Info("allocations of deleted payable reversed",
			"payable_id", id,
			"entries", resp.ReversedEntries,
		)
	}
	return nil
}

func (h *PayablesHandler) forKind(kind string) (PayableUseCases, error) {
	k, err := valueobject.NewPayableKind(kind)
	if err != nil {
		return PayableUseCases{}, fmt.Errorf("%w: %w", errMalformed, err)
	}
	uc, ok := h.useCases[k]
	if !ok {
		return PayableUseCases{}, fmt.Errorf("%w: no handler for kind %s", errMalformed, k)
	}
	return uc, nil
}
