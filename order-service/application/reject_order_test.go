package application

import (
	"context"
	"testing"

	"github.com/cartena/order-system/order-service/domain"
	"github.com/cartena/order-system/order-service/mocks"
	"github.com/cartena/order-system/shared/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestRejectOrder_Execute(t *testing.T) {
	tests := []struct {
		name           string
		command        *RejectOrderCommand
		setupMocks     func(*mocks.MockOrderRepository, *mocks.MockPublisher)
		expectedError  string
		expectedErrIs  error
		expectedReason string
	}{
		{
			name:    "pending order is rejected",
			command: &RejectOrderCommand{OrderID: testOrderID, Reason: ReasonInsufficientCredit},
			setupMocks: func(repo *mocks.MockOrderRepository, publisher *mocks.MockPublisher) {
				repo.EXPECT().FindByID(mock.Anything, mock.Anything).
					Return(testPendingOrder(t), nil).Once()
				repo.EXPECT().Save(mock.Anything, mock.AnythingOfType("*domain.Order")).Return(nil).Once()
				publisher.EXPECT().Publish(mock.Anything, mock.MatchedBy(func(evt *events.Event) bool {
					return evt.EventType == events.OrderRejectedEvent
				})).Return(nil).Once()
			},
			expectedReason: ReasonInsufficientCredit,
		},
		{
			name:    "rejecting again with the same reason is a no-op",
			command: &RejectOrderCommand{OrderID: testOrderID, Reason: ReasonInsufficientCredit},
			setupMocks: func(repo *mocks.MockOrderRepository, publisher *mocks.MockPublisher) {
				order := testPendingOrder(t)
				assert.NoError(t, order.Reject(ReasonInsufficientCredit))
				order.ClearEvents()
				repo.EXPECT().FindByID(mock.Anything, mock.Anything).Return(order, nil).Once()
			},
			expectedReason: ReasonInsufficientCredit,
		},
		{
			name:    "rejecting with a different reason is invalid",
			command: &RejectOrderCommand{OrderID: testOrderID, Reason: ReasonSagaAborted},
			setupMocks: func(repo *mocks.MockOrderRepository, publisher *mocks.MockPublisher) {
				order := testPendingOrder(t)
				assert.NoError(t, order.Reject(ReasonInsufficientCredit))
				order.ClearEvents()
				repo.EXPECT().FindByID(mock.Anything, mock.Anything).Return(order, nil).Once()
			},
			expectedErrIs: domain.ErrInvalidTransition,
		},
		{
			name:    "rejecting an approved order is invalid",
			command: &RejectOrderCommand{OrderID: testOrderID, Reason: ReasonSagaAborted},
			setupMocks: func(repo *mocks.MockOrderRepository, publisher *mocks.MockPublisher) {
				order := testPendingOrder(t)
				assert.NoError(t, order.Approve())
				order.ClearEvents()
				repo.EXPECT().FindByID(mock.Anything, mock.Anything).Return(order, nil).Once()
			},
			expectedErrIs: domain.ErrInvalidTransition,
		},
		{
			name:    "unknown order",
			command: &RejectOrderCommand{OrderID: testOrderID, Reason: ReasonSagaAborted},
			setupMocks: func(repo *mocks.MockOrderRepository, publisher *mocks.MockPublisher) {
				repo.EXPECT().FindByID(mock.Anything, mock.Anything).Return(nil, nil).Once()
			},
			expectedErrIs: domain.ErrOrderNotFound,
		},
		{
			name:          "missing reason",
			command:       &RejectOrderCommand{OrderID: testOrderID},
			setupMocks:    func(repo *mocks.MockOrderRepository, publisher *mocks.MockPublisher) {},
			expectedError: "reason is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := mocks.NewMockOrderRepository(t)
			mockPublisher := mocks.NewMockPublisher(t)
			tt.setupMocks(mockRepo, mockPublisher)

			useCase := NewRejectOrder(mockRepo, mockPublisher)

			result, err := useCase.Execute(context.Background(), tt.command)

			if tt.expectedErrIs != nil {
				assert.ErrorIs(t, err, tt.expectedErrIs)
				assert.Nil(t, result)
				return
			}

			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				assert.Nil(t, result)
				return
			}

			assert.NoError(t, err)
			assert.NotNil(t, result)
			assert.Equal(t, "REJECTED", result.State)
			assert.Equal(t, tt.expectedReason, result.Reason)
		})
	}
}
