package hub

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// capturePublisher records published values for inspection
type capturePublisher struct {
	lock   sync.Mutex
	values []interface{}
}

func (p *capturePublisher) Publish(
	value interface{}, topic string, useContext context.Context,
) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.values = append(p.values, value)
	return nil
}

func (p *capturePublisher) captured() []interface{} {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]interface{}{}, p.values...)
}

func TestStalenessGuardOrdering(t *testing.T) {
	assert := assert.New(t)

	target := &capturePublisher{}
	uut, err := GetStalenessGuardInstance("unit-test", target)
	assert.Nil(err)

	ctxt := context.Background()

	// Case 1: in-order recomputes both pass
	first := uut.NextSequence()
	second := uut.NextSequence()
	assert.Nil(uut.Publish(first, "recompute-1", "", ctxt))
	assert.Nil(uut.Publish(second, "recompute-2", "", ctxt))
	assert.Equal([]interface{}{"recompute-1", "recompute-2"}, target.captured())

	// Case 2: a late result of an older recompute is dropped
	older := uut.NextSequence()
	newer := uut.NextSequence()
	assert.Nil(uut.Publish(newer, "recompute-4", "", ctxt))
	assert.Nil(uut.Publish(older, "recompute-3", "", ctxt))
	assert.Equal(
		[]interface{}{"recompute-1", "recompute-2", "recompute-4"}, target.captured(),
	)

	// Case 3: the guard accepts strictly newer results again afterward
	next := uut.NextSequence()
	assert.Nil(uut.Publish(next, "recompute-5", "", ctxt))
	assert.Equal(
		[]interface{}{"recompute-1", "recompute-2", "recompute-4", "recompute-5"},
		target.captured(),
	)
}

func TestSequenceWraparound(t *testing.T) {
	assert := assert.New(t)

	// Strictly newer across the counter boundary
	assert.True(sequenceNewer(1, math.MaxUint64))
	assert.True(sequenceNewer(0, math.MaxUint64))
	assert.True(sequenceNewer(math.MaxUint64, math.MaxUint64-1))

	// Not newer
	assert.False(sequenceNewer(math.MaxUint64, 1))
	assert.False(sequenceNewer(5, 5))
	assert.False(sequenceNewer(4, 5))
}
