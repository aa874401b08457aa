package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-core/internal/rabbitmq"
	"chat-core/internal/telemetry"
)

// PublisherMock stands in for the event bus in handler and audit tests.
type PublisherMock struct {
	mock.Mock
}

var (
	_ rabbitmq.Publisher  = (*PublisherMock)(nil)
	_ telemetry.Publisher = (*PublisherMock)(nil)
)

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	return m.Called(ctx, routingKey, event).Error(0)
}

func (m *PublisherMock) PublishJSON(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	return m.Called(ctx, routingKey, event, headers).Error(0)
}

func (m *PublisherMock) Close() error {
	return m.Called().Error(0)
}
