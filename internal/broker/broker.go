package broker

import (
	"context"
	"errors"
)

// Sentinel errors for order submission
var (
	// ErrRejected indicates the broker refused the order outright
	ErrRejected = errors.New("broker: order rejected")
	// ErrUnavailable indicates a transient gateway failure worth retrying
	ErrUnavailable = errors.New("broker: gateway unavailable")
)

// Broker is the execution gateway interface. Submit returns a broker
// order id; everything that happens afterwards arrives on Events, in
// broker-reported order per strategy.
type Broker interface {
	Submit(ctx context.Context, intent OrderIntent) (string, error)
	Events() <-chan Event
	Close() error
}
