package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionHubBasic(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetSubscriptionHubInstance("unit-test", 4, 16, nil, &wg, ctxt)
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Stop())
	}()

	subscription, err := uut.Subscribe("unit-test", nil, ctxt)
	assert.Nil(err)
	assert.NotEmpty(subscription.ID())

	assert.Nil(uut.Publish("hello", "", ctxt))
	assert.Nil(uut.Publish("world", "", ctxt))

	recvCtxt, recvCancel := context.WithTimeout(ctxt, time.Second)
	defer recvCancel()
	first, err := subscription.Receive(recvCtxt)
	assert.Nil(err)
	assert.Equal("hello", first.Value)
	second, err := subscription.Receive(recvCtxt)
	assert.Nil(err)
	assert.Equal("world", second.Value)
	assert.True(second.SequenceID > first.SequenceID)
}

func TestSubscriptionHubTopicFiltering(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetSubscriptionHubInstance("unit-test", 4, 16, nil, &wg, ctxt)
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Stop())
	}()

	filtered, err := uut.Subscribe("filtered", []string{"topic-a"}, ctxt)
	assert.Nil(err)
	catchAll, err := uut.Subscribe("catch-all", nil, ctxt)
	assert.Nil(err)

	assert.Nil(uut.Publish("for-b", "topic-b", ctxt))
	assert.Nil(uut.Publish("for-a", "topic-a", ctxt))

	recvCtxt, recvCancel := context.WithTimeout(ctxt, time.Second)
	defer recvCancel()

	// The catch-all subscriber sees both values
	env, err := catchAll.Receive(recvCtxt)
	assert.Nil(err)
	assert.Equal("for-b", env.Value)
	env, err = catchAll.Receive(recvCtxt)
	assert.Nil(err)
	assert.Equal("for-a", env.Value)

	// The filtered subscriber never saw the topic-b value
	env, err = filtered.Receive(recvCtxt)
	assert.Nil(err)
	assert.Equal("for-a", env.Value)
	assert.Equal("topic-a", env.Topic)
}

func TestSubscriptionHubTopicUpdates(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetSubscriptionHubInstance("unit-test", 4, 16, nil, &wg, ctxt)
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Stop())
	}()

	subscription, err := uut.Subscribe("unit-test", []string{"topic-a"}, ctxt)
	assert.Nil(err)

	assert.Nil(uut.UpdateTopics(
		subscription.ID(), []string{"topic-b"}, []string{"topic-a"}, ctxt,
	))
	assert.Nil(uut.Publish("for-a", "topic-a", ctxt))
	assert.Nil(uut.Publish("for-b", "topic-b", ctxt))

	recvCtxt, recvCancel := context.WithTimeout(ctxt, time.Second)
	defer recvCancel()
	env, err := subscription.Receive(recvCtxt)
	assert.Nil(err)
	assert.Equal("for-b", env.Value)

	// Topic updates against unknown subscribers are ignored
	assert.Nil(uut.UpdateTopics("unknown-subscriber", []string{"topic-c"}, nil, ctxt))
}

func TestSubscriptionHubSlowSubscriberIsolation(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Queue depth of one, so the stalled subscriber overflows immediately
	uut, err := GetSubscriptionHubInstance("unit-test", 1, 16, nil, &wg, ctxt)
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Stop())
	}()

	stalled, err := uut.Subscribe("stalled", nil, ctxt)
	assert.Nil(err)
	healthy, err := uut.Subscribe("healthy", nil, ctxt)
	assert.Nil(err)

	recvCtxt, recvCancel := context.WithTimeout(ctxt, time.Second)
	defer recvCancel()
	for _, payload := range []string{"msg-0", "msg-1", "msg-2"} {
		assert.Nil(uut.Publish(payload, "", ctxt))
		env, err := healthy.Receive(recvCtxt)
		assert.Nil(err)
		assert.Equal(payload, env.Value)
	}

	// The stalled subscriber kept only what fit in its queue
	env, err := stalled.Receive(recvCtxt)
	assert.Nil(err)
	assert.Equal("msg-0", env.Value)
	drainCtxt, drainCancel := context.WithTimeout(ctxt, time.Millisecond*100)
	defer drainCancel()
	_, err = stalled.Receive(drainCtxt)
	assert.NotNil(err)
}

func TestSubscriptionHubUnsubscribeIdempotence(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetSubscriptionHubInstance("unit-test", 4, 16, nil, &wg, ctxt)
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.Stop())
	}()

	subscription, err := uut.Subscribe("unit-test", nil, ctxt)
	assert.Nil(err)
	assert.Nil(subscription.Close())
	assert.Nil(subscription.Close())

	// Receive reports closure
	recvCtxt, recvCancel := context.WithTimeout(ctxt, time.Second)
	defer recvCancel()
	_, err = subscription.Receive(recvCtxt)
	assert.Equal(ErrSubscriptionClosed, err)

	// The registry still serves new subscribers
	another, err := uut.Subscribe("unit-test", nil, ctxt)
	assert.Nil(err)
	assert.Nil(uut.Publish("still-alive", "", ctxt))
	env, err := another.Receive(recvCtxt)
	assert.Nil(err)
	assert.Equal("still-alive", env.Value)
}

func TestSubscriptionHubStop(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetSubscriptionHubInstance("unit-test", 4, 16, nil, &wg, ctxt)
	assert.Nil(err)

	subscription, err := uut.Subscribe("unit-test", nil, ctxt)
	assert.Nil(err)

	assert.Nil(uut.Stop())
	assert.Nil(uut.Stop())

	// Existing subscriptions are released
	recvCtxt, recvCancel := context.WithTimeout(context.Background(), time.Second)
	defer recvCancel()
	_, err = subscription.Receive(recvCtxt)
	assert.Equal(ErrSubscriptionClosed, err)

	// Further operations fail
	_, err = uut.Subscribe("late", nil, context.Background())
	assert.Equal(ErrHubStopped, err)
	assert.Equal(ErrHubStopped, uut.Publish("late", "", context.Background()))
}

func TestSubscriptionHubPublishAfterStop(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The hub's request queue has free space after shutdown, so a racy
	// submission path would let the occasional publish through. Every
	// attempt must fail, every time.
	for i := 0; i < 20; i++ {
		uut, err := GetSubscriptionHubInstance("unit-test", 4, 16, nil, &wg, ctxt)
		assert.Nil(err)
		assert.Nil(uut.Stop())
		assert.Equal(ErrHubStopped, uut.Publish("late", "", context.Background()))
		_, err = uut.Subscribe("late", nil, context.Background())
		assert.Equal(ErrHubStopped, err)
	}
}
