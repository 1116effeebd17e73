// Package gochannel creates an in-process pub/sub for lifecycle events of a single process.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// outputBuffer bounds the lifecycle events queued for a slow subscriber.
const outputBuffer = 256

// CreateChannel returns one GoChannel as both publisher and subscriber. Events published
// before a subscription are dropped.
func CreateChannel(logger watermill.LoggerAdapter) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: outputBuffer}, logger)

	return pubSub, pubSub, nil
}
