package hub

import (
	"context"
	"errors"
	"time"
)

// ErrSubscriptionClosed returned by Receive once the subscription is torn down
var ErrSubscriptionClosed = errors.New("subscription closed")

// ErrHubStopped returned when operating against a hub which has shut down
var ErrHubStopped = errors.New("subscription hub already stopped")

// Envelope a published value together with its delivery metadata
type Envelope struct {
	// SequenceID global monotonic sequence number assigned at publish time
	SequenceID uint64
	// Topic optional routing topic the value was published under
	Topic string
	// PublishedAt the time the hub accepted the value
	PublishedAt time.Time
	// Value the domain value being distributed
	Value interface{}
}

// Publisher accepts values for distribution
type Publisher interface {
	Publish(value interface{}, topic string, useContext context.Context) error
}

// Subscription handle for one subscriber of the hub.
//
// Values are pulled either one at a time via Receive, or directly off the
// channel returned by Channel. The channel is closed when the subscription
// is torn down.
type Subscription interface {
	ID() string
	Receive(useContext context.Context) (Envelope, error)
	Channel() <-chan Envelope
	Close() error
}

// subscriptionImpl implements Subscription
type subscriptionImpl struct {
	id     string
	caller string
	out    chan Envelope
	parent *subscriptionHubImpl
}

// ID the subscriber ID assigned at registration
func (s *subscriptionImpl) ID() string {
	return s.id
}

// Channel direct access to the subscriber's outbound queue
func (s *subscriptionImpl) Channel() <-chan Envelope {
	return s.out
}

// Receive fetch the next value for this subscriber
func (s *subscriptionImpl) Receive(useContext context.Context) (Envelope, error) {
	select {
	case env, ok := <-s.out:
		if !ok {
			return Envelope{}, ErrSubscriptionClosed
		}
		return env, nil
	case <-useContext.Done():
		return Envelope{}, useContext.Err()
	}
}

// Close tear down this subscription. Safe to call multiple times.
func (s *subscriptionImpl) Close() error {
	return s.parent.Unsubscribe(s.id, context.Background())
}

// sequenceNewer whether sequence a is strictly newer than b.
//
// The comparison is performed on the signed difference so that it survives
// counter wraparound at the uint64 boundary.
func sequenceNewer(a, b uint64) bool {
	return int64(a-b) > 0
}
