package hub

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/dataforge-io/serieshub/common"
	"github.com/dataforge-io/serieshub/metric"
	"github.com/google/uuid"
)

// SubscriptionHub generic multi-subscriber push engine.
//
// Values submitted through Publish fan out to every registered subscriber
// whose topic filter matches. Each subscriber consumes at its own pace from
// a bounded queue; a full queue drops the value for that subscriber only.
type SubscriptionHub interface {
	Publisher
	Subscribe(caller string, initialTopics []string, useContext context.Context) (Subscription, error)
	UpdateTopics(subscriberID string, add []string, remove []string, useContext context.Context) error
	Unsubscribe(subscriberID string, useContext context.Context) error
	Stop() error
}

// subscriberEntry registry entry for one live subscriber
type subscriberEntry struct {
	id           string
	caller       string
	topics       map[string]struct{}
	out          chan Envelope
	lastAccepted uint64
	seen         bool
}

// subscriptionHubImpl implements SubscriptionHub
type subscriptionHubImpl struct {
	common.Component
	name             string
	tp               common.TaskProcessor
	queueDepth       int
	registry         map[string]*subscriberEntry
	nextSequence     uint64
	metrics          *metric.HubMetrics
	operationContext context.Context
	contextCancel    context.CancelFunc
	stopped          int32
}

// GetSubscriptionHubInstance define a new subscription hub.
//
// queueDepth sets the per-subscriber outbound queue capacity, taskBuffer the
// depth of the hub's internal request queue. metrics may be nil.
func GetSubscriptionHubInstance(
	name string,
	queueDepth int,
	taskBuffer int,
	metrics *metric.HubMetrics,
	wg *sync.WaitGroup,
	rootCtxt context.Context,
) (SubscriptionHub, error) {
	if queueDepth < 1 {
		return nil, fmt.Errorf("subscriber queue depth %d is not usable", queueDepth)
	}
	logTags := log.Fields{
		"module": "hub", "component": "subscription-hub", "instance": name,
	}
	tp, err := common.GetNewTaskProcessorInstance(
		fmt.Sprintf("hub/%s", name), taskBuffer, rootCtxt,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define task processor")
		return nil, err
	}
	ctxt, cancel := context.WithCancel(rootCtxt)
	instance := subscriptionHubImpl{
		Component:        common.Component{LogTags: logTags},
		name:             name,
		tp:               tp,
		queueDepth:       queueDepth,
		registry:         make(map[string]*subscriberEntry),
		nextSequence:     0,
		metrics:          metrics,
		operationContext: ctxt,
		contextCancel:    cancel,
	}
	// Add handlers
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(hubSubscribeReq{}), instance.processSubscribeRequest,
	); err != nil {
		return nil, err
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(hubUnsubscribeReq{}), instance.processUnsubscribeRequest,
	); err != nil {
		return nil, err
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(hubUpdateTopicsReq{}), instance.processUpdateTopicsRequest,
	); err != nil {
		return nil, err
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(hubPublishReq{}), instance.processPublishRequest,
	); err != nil {
		return nil, err
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(hubStopReq{}), instance.processStopRequest,
	); err != nil {
		return nil, err
	}
	if err := tp.StartEventLoop(wg); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to start hub event loop")
		return nil, err
	}
	return &instance, nil
}

// ----------------------------------------------------------------------------------------

type hubSubscribeReq struct {
	caller   string
	topics   []string
	resultCB func(Subscription, error)
}

// Subscribe register a new subscriber with an optional initial topic filter.
// An empty filter receives every published value.
func (h *subscriptionHubImpl) Subscribe(
	caller string, initialTopics []string, useContext context.Context,
) (Subscription, error) {
	if atomic.LoadInt32(&h.stopped) == 1 {
		return nil, ErrHubStopped
	}
	complete := make(chan bool, 1)
	var subscription Subscription
	var processError error
	handler := func(s Subscription, err error) {
		subscription = s
		processError = err
		complete <- true
	}

	request := hubSubscribeReq{caller: caller, topics: initialTopics, resultCB: handler}

	if err := h.tp.Submit(request, useContext); err != nil {
		log.WithError(err).WithFields(h.LogTags).Error("Failed to submit subscribe request")
		return nil, err
	}

	select {
	case <-complete:
		return subscription, processError
	case <-h.operationContext.Done():
		return nil, ErrHubStopped
	}
}

func (h *subscriptionHubImpl) processSubscribeRequest(param interface{}) error {
	request, ok := param.(hubSubscribeReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for subscribe request", reflect.TypeOf(param),
		)
	}
	subscription, err := h.handleSubscribe(request.caller, request.topics)
	request.resultCB(subscription, err)
	return err
}

func (h *subscriptionHubImpl) handleSubscribe(
	caller string, topics []string,
) (Subscription, error) {
	entry := &subscriberEntry{
		id:     uuid.New().String(),
		caller: caller,
		topics: make(map[string]struct{}),
		out:    make(chan Envelope, h.queueDepth),
	}
	for _, topic := range topics {
		entry.topics[topic] = struct{}{}
	}
	h.registry[entry.id] = entry
	if h.metrics != nil {
		h.metrics.Subscribers.Inc()
	}
	log.WithFields(h.LogTags).Infof(
		"Registered subscriber %s for %s with %d topics", entry.id, caller, len(entry.topics),
	)
	return &subscriptionImpl{
		id: entry.id, caller: caller, out: entry.out, parent: h,
	}, nil
}

// ----------------------------------------------------------------------------------------

type hubUnsubscribeReq struct {
	subscriberID string
	resultCB     func(error)
}

// Unsubscribe remove a subscriber from the registry and close its queue.
// Unknown subscriber IDs are ignored, so repeated calls are safe.
func (h *subscriptionHubImpl) Unsubscribe(subscriberID string, useContext context.Context) error {
	complete := make(chan bool, 1)
	var processError error
	handler := func(err error) {
		processError = err
		complete <- true
	}

	request := hubUnsubscribeReq{subscriberID: subscriberID, resultCB: handler}

	if err := h.tp.Submit(request, useContext); err != nil {
		if atomic.LoadInt32(&h.stopped) == 1 {
			// Shutdown already released every subscriber
			return nil
		}
		log.WithError(err).WithFields(h.LogTags).Error("Failed to submit unsubscribe request")
		return err
	}

	select {
	case <-complete:
		return processError
	case <-h.operationContext.Done():
		return nil
	}
}

func (h *subscriptionHubImpl) processUnsubscribeRequest(param interface{}) error {
	request, ok := param.(hubUnsubscribeReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for unsubscribe request", reflect.TypeOf(param),
		)
	}
	request.resultCB(h.handleUnsubscribe(request.subscriberID))
	return nil
}

func (h *subscriptionHubImpl) handleUnsubscribe(subscriberID string) error {
	entry, ok := h.registry[subscriberID]
	if !ok {
		log.WithFields(h.LogTags).Debugf("Subscriber %s already removed", subscriberID)
		return nil
	}
	delete(h.registry, subscriberID)
	close(entry.out)
	if h.metrics != nil {
		h.metrics.Subscribers.Dec()
	}
	log.WithFields(h.LogTags).Infof("Removed subscriber %s of %s", entry.id, entry.caller)
	return nil
}

// ----------------------------------------------------------------------------------------

type hubUpdateTopicsReq struct {
	subscriberID string
	add          []string
	remove       []string
	resultCB     func(error)
}

// UpdateTopics change the topic filter of one subscriber. Unknown subscriber
// IDs are a no-op.
func (h *subscriptionHubImpl) UpdateTopics(
	subscriberID string, add []string, remove []string, useContext context.Context,
) error {
	complete := make(chan bool, 1)
	var processError error
	handler := func(err error) {
		processError = err
		complete <- true
	}

	request := hubUpdateTopicsReq{
		subscriberID: subscriberID, add: add, remove: remove, resultCB: handler,
	}

	if err := h.tp.Submit(request, useContext); err != nil {
		log.WithError(err).WithFields(h.LogTags).Error("Failed to submit update-topics request")
		return err
	}

	select {
	case <-complete:
		return processError
	case <-h.operationContext.Done():
		return ErrHubStopped
	}
}

func (h *subscriptionHubImpl) processUpdateTopicsRequest(param interface{}) error {
	request, ok := param.(hubUpdateTopicsReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for update-topics request", reflect.TypeOf(param),
		)
	}
	entry, found := h.registry[request.subscriberID]
	if !found {
		log.WithFields(h.LogTags).Debugf(
			"Ignoring topic change for unknown subscriber %s", request.subscriberID,
		)
		request.resultCB(nil)
		return nil
	}
	for _, topic := range request.add {
		entry.topics[topic] = struct{}{}
	}
	for _, topic := range request.remove {
		delete(entry.topics, topic)
	}
	request.resultCB(nil)
	return nil
}

// ----------------------------------------------------------------------------------------

type hubPublishReq struct {
	value interface{}
	topic string
}

// Publish distribute a value to all matching subscribers.
//
// Fire-and-forget: delivery failures to individual subscribers are logged and
// counted but never surface here. An error is returned only when the hub
// itself can no longer accept the value.
func (h *subscriptionHubImpl) Publish(
	value interface{}, topic string, useContext context.Context,
) error {
	if atomic.LoadInt32(&h.stopped) == 1 {
		return ErrHubStopped
	}
	request := hubPublishReq{value: value, topic: topic}
	if err := h.tp.Submit(request, useContext); err != nil {
		log.WithError(err).WithFields(h.LogTags).Error("Failed to submit publish request")
		return err
	}
	return nil
}

func (h *subscriptionHubImpl) processPublishRequest(param interface{}) error {
	request, ok := param.(hubPublishReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for publish request", reflect.TypeOf(param),
		)
	}
	h.nextSequence++
	envelope := Envelope{
		SequenceID:  h.nextSequence,
		Topic:       request.topic,
		PublishedAt: time.Now().UTC(),
		Value:       request.value,
	}
	if h.metrics != nil {
		h.metrics.Published.Inc()
	}
	for _, entry := range h.registry {
		h.deliverTo(entry, envelope)
	}
	return nil
}

// deliverTo enqueue one envelope for one subscriber. Failures stay contained
// to this subscriber.
func (h *subscriptionHubImpl) deliverTo(entry *subscriberEntry, envelope Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(h.LogTags).Errorf(
				"Delivery to subscriber %s panicked: %v", entry.id, r,
			)
		}
	}()
	if len(entry.topics) > 0 {
		if _, interested := entry.topics[envelope.Topic]; !interested {
			return
		}
	}
	if entry.seen && !sequenceNewer(envelope.SequenceID, entry.lastAccepted) {
		log.WithFields(h.LogTags).Debugf(
			"Discarding stale sequence %d for subscriber %s", envelope.SequenceID, entry.id,
		)
		if h.metrics != nil {
			h.metrics.Stale.Inc()
		}
		return
	}
	select {
	case entry.out <- envelope:
		entry.lastAccepted = envelope.SequenceID
		entry.seen = true
		if h.metrics != nil {
			h.metrics.Delivered.Inc()
		}
	default:
		log.WithFields(h.LogTags).Warnf(
			"Queue of subscriber %s full, dropping sequence %d", entry.id, envelope.SequenceID,
		)
		if h.metrics != nil {
			h.metrics.Dropped.Inc()
		}
	}
}

// ----------------------------------------------------------------------------------------

type hubStopReq struct {
	resultCB func()
}

// Stop shut the hub down. All subscriptions are closed, and further
// Subscribe or Publish calls fail. Safe to call multiple times.
func (h *subscriptionHubImpl) Stop() error {
	if !atomic.CompareAndSwapInt32(&h.stopped, 0, 1) {
		return nil
	}
	complete := make(chan bool, 1)
	request := hubStopReq{resultCB: func() { complete <- true }}
	if err := h.tp.Submit(request, context.Background()); err != nil {
		log.WithError(err).WithFields(h.LogTags).Error("Failed to submit stop request")
		return err
	}
	<-complete
	h.contextCancel()
	return h.tp.StopEventLoop()
}

func (h *subscriptionHubImpl) processStopRequest(param interface{}) error {
	request, ok := param.(hubStopReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for stop request", reflect.TypeOf(param),
		)
	}
	for id, entry := range h.registry {
		close(entry.out)
		delete(h.registry, id)
		if h.metrics != nil {
			h.metrics.Subscribers.Dec()
		}
	}
	log.WithFields(h.LogTags).Info("Hub stopped, all subscribers released")
	request.resultCB()
	return nil
}
