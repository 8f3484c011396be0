package eventbus

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// NewGoChannelEventBus creates an in-memory event bus. Ideal for unit
// tests and local development as it needs no external dependencies.
func NewGoChannelEventBus(logger watermill.LoggerAdapter) *WatermillEventBus {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: 1000,
			Persistent:          false,
		},
		logger,
	)

	// GoChannel implements both Publisher and Subscriber.
	return NewWatermillEventBus(pubSub, pubSub)
}

// NewTestEventBus creates a minimal gochannel bus with blocking,
// persistent delivery for deterministic tests.
func NewTestEventBus(logger watermill.LoggerAdapter) *WatermillEventBus {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            10,
			Persistent:                     true,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)

	return NewWatermillEventBus(pubSub, pubSub)
}
