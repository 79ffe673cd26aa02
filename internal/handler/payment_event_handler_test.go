package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"marketplace/internal/event"
	"marketplace/internal/usecase"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type PaymentApplierMock struct {
	mock.Mock
}

func (m *PaymentApplierMock) MarkPaidByNumber(ctx context.Context, orderNumber string) (usecase.OrderOutput, error) {
	args := m.Called(ctx, orderNumber)
	return usecase.OrderOutput{OrderNumber: orderNumber}, args.Error(0)
}

func (m *PaymentApplierMock) MarkFailedByNumber(ctx context.Context, orderNumber string) (usecase.OrderOutput, error) {
	args := m.Called(ctx, orderNumber)
	return usecase.OrderOutput{OrderNumber: orderNumber}, args.Error(0)
}

func paymentMessage(t *testing.T, eventType, orderNumber string) kafka.Message {
	t.Helper()
	env, err := event.New(eventType, event.PaymentResultPayload{OrderNumber: orderNumber, Reference: "tx-1"})
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(orderNumber), Value: b}
}

func TestPaymentEventHandler_Succeeded(t *testing.T) {
	uc := new(PaymentApplierMock)
	h := NewPaymentEventHandler(uc, zap.NewNop())

	uc.On("MarkPaidByNumber", mock.Anything, "ORD-20260101-00001").Return(nil)

	err := h.Handle(context.Background(), paymentMessage(t, event.TypePaymentSucceeded, "ORD-20260101-00001"))
	assert.NoError(t, err)
	uc.AssertExpectations(t)
}

func TestPaymentEventHandler_Failed(t *testing.T) {
	uc := new(PaymentApplierMock)
	h := NewPaymentEventHandler(uc, zap.NewNop())

	uc.On("MarkFailedByNumber", mock.Anything, "ORD-20260101-00002").Return(nil)

	err := h.Handle(context.Background(), paymentMessage(t, event.TypePaymentFailed, "ORD-20260101-00002"))
	assert.NoError(t, err)
	uc.AssertExpectations(t)
}

// 再送しても直らないものはコミットして捨てる
func TestPaymentEventHandler_SkipsUnrecoverable(t *testing.T) {
	uc := new(PaymentApplierMock)
	h := NewPaymentEventHandler(uc, zap.NewNop())
	ctx := context.Background()

	assert.NoError(t, h.Handle(ctx, kafka.Message{Value: []byte("not json")}))
	assert.NoError(t, h.Handle(ctx, paymentMessage(t, event.TypePaymentSucceeded, "")))
	assert.NoError(t, h.Handle(ctx, paymentMessage(t, event.TypeOrderCreated, "ORD-20260101-00003")))

	uc.On("MarkPaidByNumber", mock.Anything, "ORD-19700101-00001").Return(usecase.NewHTTPError(http.StatusNotFound, "order not found"))
	assert.NoError(t, h.Handle(ctx, paymentMessage(t, event.TypePaymentSucceeded, "ORD-19700101-00001")))

	uc.AssertNumberOfCalls(t, "MarkPaidByNumber", 1)
}

// 5xxは返して再配信させる
func TestPaymentEventHandler_RetriesServerErrors(t *testing.T) {
	uc := new(PaymentApplierMock)
	h := NewPaymentEventHandler(uc, zap.NewNop())

	uc.On("MarkPaidByNumber", mock.Anything, "ORD-20260101-00004").
		Return(&usecase.HTTPError{Status: http.StatusInternalServerError, Message: "internal error", Err: errors.New("db down")})

	err := h.Handle(context.Background(), paymentMessage(t, event.TypePaymentSucceeded, "ORD-20260101-00004"))
	assert.Error(t, err)
}
