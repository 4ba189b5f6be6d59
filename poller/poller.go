package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/dataforge-io/serieshub/common"
	"github.com/dataforge-io/serieshub/hub"
	"github.com/dataforge-io/serieshub/metric"
	"github.com/dataforge-io/serieshub/series"
)

// SnapshotSource the pull interface the poller drives
type SnapshotSource interface {
	ReadSnapshot(
		now time.Time, idsOrNames []string, useContext context.Context,
	) ([]series.Sample, error)
}

// SnapshotPoller synthesizes push notifications from a pull-only source.
//
// On every interval the configured series are polled, and any sample that
// differs from its cached predecessor is published with the series ID as
// the topic.
type SnapshotPoller interface {
	Start(interval time.Duration) error
	Stop() error
}

// snapshotPollerImpl implements SnapshotPoller
type snapshotPollerImpl struct {
	common.Component
	source           SnapshotSource
	target           hub.Publisher
	seriesIDs        []string
	timer            common.IntervalTimer
	lastSeen         map[string]series.Sample
	metrics          *metric.PollerMetrics
	operationContext context.Context
	lock             sync.Mutex
	started          bool
}

// GetSnapshotPollerInstance define a poller pushing snapshot changes of the
// given series from source into target. metrics may be nil.
func GetSnapshotPollerInstance(
	name string,
	source SnapshotSource,
	target hub.Publisher,
	seriesIDs []string,
	metrics *metric.PollerMetrics,
	wg *sync.WaitGroup,
	rootCtxt context.Context,
) (SnapshotPoller, error) {
	logTags := log.Fields{
		"module": "poller", "component": "snapshot-poller", "instance": name,
	}
	timer, err := common.GetIntervalTimerInstance(
		fmt.Sprintf("poller/%s", name), rootCtxt, wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define interval timer")
		return nil, err
	}
	return &snapshotPollerImpl{
		Component:        common.Component{LogTags: logTags},
		source:           source,
		target:           target,
		seriesIDs:        seriesIDs,
		timer:            timer,
		lastSeen:         make(map[string]series.Sample),
		metrics:          metrics,
		operationContext: rootCtxt,
	}, nil
}

// Start begin polling at the given interval
func (p *snapshotPollerImpl) Start(interval time.Duration) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.started {
		return fmt.Errorf("already started")
	}
	if err := p.timer.Start(interval, p.pollOnce, false); err != nil {
		log.WithError(err).WithFields(p.LogTags).Error("Failed to start poll timer")
		return err
	}
	p.started = true
	return nil
}

// Stop end polling
func (p *snapshotPollerImpl) Stop() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if !p.started {
		return nil
	}
	p.started = false
	return p.timer.Stop()
}

// pollOnce run one polling cycle
func (p *snapshotPollerImpl) pollOnce() error {
	if p.metrics != nil {
		p.metrics.Polls.Inc()
	}
	samples, err := p.source.ReadSnapshot(time.Now(), p.seriesIDs, p.operationContext)
	if err != nil {
		log.WithError(err).WithFields(p.LogTags).Error("Snapshot poll failed")
		return err
	}
	for _, sample := range samples {
		previous, seen := p.lastSeen[sample.SeriesID]
		if seen && previous.Timestamp.Equal(sample.Timestamp) &&
			previous.Value == sample.Value {
			continue
		}
		p.lastSeen[sample.SeriesID] = sample
		if err := p.target.Publish(sample, sample.SeriesID, p.operationContext); err != nil {
			log.WithError(err).WithFields(p.LogTags).Errorf(
				"Failed to push change of %s", sample.SeriesID,
			)
			continue
		}
		if p.metrics != nil {
			p.metrics.Changes.Inc()
		}
	}
	return nil
}
