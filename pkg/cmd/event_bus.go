package cmd

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/dmateus/botherd/pkg/eventbus"
)

// NewEventBus builds the event bus for the requested transport: "kafka"
// needs a broker list, everything else falls back to the in-memory
// gochannel bus.
func NewEventBus(busType, kafkaBrokers, serviceName string, logger *slog.Logger) (eventbus.EventBus, error) {
	watermillLogger := watermill.NewSlogLogger(logger)

	switch busType {
	case "kafka":
		return eventbus.NewKafkaEventBus(watermillLogger, kafkaBrokers, serviceName)
	default:
		return eventbus.NewGoChannelEventBus(watermillLogger), nil
	}
}
