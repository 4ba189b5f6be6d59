package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/dataforge-io/serieshub/common"
)

// StalenessGuard orders concurrent recomputations of a derived value before
// they reach a Publisher.
//
// A producer reserves a sequence number before starting a recomputation and
// presents it together with the finished value. If a value carrying a newer
// reservation has been published in the meantime, the late result is dropped
// instead of overwriting it.
type StalenessGuard interface {
	NextSequence() uint64
	Publish(sequence uint64, value interface{}, topic string, useContext context.Context) error
}

// stalenessGuardImpl implements StalenessGuard
type stalenessGuardImpl struct {
	common.Component
	target        Publisher
	lock          sync.Mutex
	counter       uint64
	lastPublished uint64
	primed        bool
}

// GetStalenessGuardInstance define a staleness guard in front of a publisher
func GetStalenessGuardInstance(name string, target Publisher) (StalenessGuard, error) {
	logTags := log.Fields{
		"module": "hub", "component": "staleness-guard", "instance": name,
	}
	return &stalenessGuardImpl{
		Component: common.Component{LogTags: logTags},
		target:    target,
	}, nil
}

// NextSequence reserve the sequence number for an upcoming recomputation
func (g *stalenessGuardImpl) NextSequence() uint64 {
	return atomic.AddUint64(&g.counter, 1)
}

// Publish forward the value unless a newer reservation already published.
//
// The forward happens under the guard's lock so that the ordering decided
// here is also the ordering seen by the target publisher.
func (g *stalenessGuardImpl) Publish(
	sequence uint64, value interface{}, topic string, useContext context.Context,
) error {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.primed && !sequenceNewer(sequence, g.lastPublished) {
		log.WithFields(g.LogTags).Debugf(
			"Dropping stale recompute %d, already published %d", sequence, g.lastPublished,
		)
		return nil
	}
	if err := g.target.Publish(value, topic, useContext); err != nil {
		log.WithError(err).WithFields(g.LogTags).Errorf(
			"Failed to forward recompute %d", sequence,
		)
		return err
	}
	g.lastPublished = sequence
	g.primed = true
	return nil
}
