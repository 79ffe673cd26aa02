package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"marketplace/internal/domain/model"
	repo "marketplace/internal/repository"

	"go.uber.org/zap"
)

type HTTPError struct {
	Status  int
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

// ドメインエラーをHTTPErrorに寄せる。想定外は500でログに残す
func toHTTPError(log *zap.Logger, op string, err error) error {
	if err == nil {
		return nil
	}
	if he, ok := AsHTTPError(err); ok {
		return he
	}

	var stockErr *model.InsufficientStockError
	var transErr *model.InvalidTransitionError

	switch {
	case errors.As(err, &stockErr):
		return &HTTPError{
			Status:  http.StatusConflict,
			Message: "out of stock",
			Details: map[string]interface{}{
				"variant_id": stockErr.VariantID,
				"requested":  stockErr.Requested,
				"available":  stockErr.Available,
			},
			Err: err,
		}
	case errors.As(err, &transErr):
		return &HTTPError{
			Status:  http.StatusConflict,
			Message: "invalid state transition",
			Details: map[string]interface{}{
				"order_id": transErr.OrderID,
				"from":     transErr.From,
				"event":    transErr.Event,
			},
			Err: err,
		}
	case errors.Is(err, repo.ErrNotFound):
		return &HTTPError{Status: http.StatusNotFound, Message: "not found", Err: err}
	case errors.Is(err, repo.ErrConflict):
		return &HTTPError{Status: http.StatusConflict, Message: "conflict", Err: err}
	case errors.Is(err, ErrOrderNumbersExhausted):
		return &HTTPError{Status: http.StatusServiceUnavailable, Message: err.Error(), Err: err}
	case errors.Is(err, model.ErrCancelReasonRequired), errors.Is(err, model.ErrInvalidQuantity):
		return &HTTPError{Status: http.StatusBadRequest, Message: err.Error(), Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &HTTPError{Status: http.StatusServiceUnavailable, Message: "request timeout", Err: err}
	}

	log.Error("unexpected error", zap.String("op", op), zap.Error(err))
	return &HTTPError{Status: http.StatusInternalServerError, Message: "internal error", Err: err}
}

func notFound(what string) error {
	return &HTTPError{Status: http.StatusNotFound, Message: what + " not found", Err: repo.ErrNotFound}
}
