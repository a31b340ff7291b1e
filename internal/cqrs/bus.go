package cqrs

import (
	"fmt"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"github.com/danghamo/haulnav/pkg/logger"
)

// EventTopic names the stream an event is published on
func EventTopic(prefix, eventName string) string {
	return fmt.Sprintf("%s.%s", prefix, eventName)
}

// ServerConsumerGroup is unique per process so every server instance
// receives every event
func ServerConsumerGroup(base string) string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%s-%d", base, hostname, time.Now().UnixNano())
}

// NewEventBus creates an event bus publishing JSON events under topicPrefix
func NewEventBus(publisher message.Publisher, topicPrefix string, log watermill.LoggerAdapter) (*cqrs.EventBus, error) {
	return cqrs.NewEventBusWithConfig(
		publisher,
		cqrs.EventBusConfig{
			GeneratePublishTopic: func(params cqrs.GenerateEventPublishTopicParams) (string, error) {
				return EventTopic(topicPrefix, params.EventName), nil
			},
			Marshaler: cqrs.JSONMarshaler{},
			Logger:    log,
		},
	)
}

// NewEventProcessor creates an event processor reading topicPrefix topics
// from subscriber
func NewEventProcessor(router *message.Router, subscriber message.Subscriber, topicPrefix string, log watermill.LoggerAdapter) (*cqrs.EventProcessor, error) {
	return cqrs.NewEventProcessorWithConfig(
		router,
		cqrs.EventProcessorConfig{
			GenerateSubscribeTopic: func(params cqrs.EventProcessorGenerateSubscribeTopicParams) (string, error) {
				return EventTopic(topicPrefix, params.EventName), nil
			},
			SubscriberConstructor: func(params cqrs.EventProcessorSubscriberConstructorParams) (message.Subscriber, error) {
				return subscriber, nil
			},
			Marshaler: cqrs.JSONMarshaler{},
			Logger:    log,
		},
	)
}

// zapAdapter routes watermill logs through the application logger
type zapAdapter struct {
	logger *logger.Logger
	fields watermill.LogFields
}

// NewWatermillLogger adapts log to watermill.LoggerAdapter. Watermill's
// trace output is logged at debug level.
func NewWatermillLogger(log *logger.Logger) watermill.LoggerAdapter {
	return &zapAdapter{logger: log.WithComponent("watermill")}
}

func (a *zapAdapter) zapFields(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(a.fields)+len(fields))
	for k, v := range a.fields.Add(fields) {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (a *zapAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(a.zapFields(fields), zap.Error(err))...)
}

func (a *zapAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Info(msg, a.zapFields(fields)...)
}

func (a *zapAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, a.zapFields(fields)...)
}

func (a *zapAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, a.zapFields(fields)...)
}

func (a *zapAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &zapAdapter{logger: a.logger, fields: a.fields.Add(fields)}
}
