package series

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/dataforge-io/serieshub/common"
	"github.com/dataforge-io/serieshub/metric"
)

// Store read-only time-indexed value store for multiple named series.
//
// The dataset is fixed at construction. Raw-range queries return recorded
// samples between two instants; snapshot queries return the value a series
// held at a given instant. With looping enabled, the recorded window is
// treated as repeating indefinitely: queries outside the window are answered
// by replaying the window with its timestamps shifted by whole multiples of
// the window duration.
//
// Requests naming unknown series are not an error; those series simply
// contribute no samples.
type Store interface {
	FindSeries(filter string, useContext context.Context) ([]Definition, error)
	GetSeries(idsOrNames []string, useContext context.Context) ([]Definition, error)
	ReadSnapshot(now time.Time, idsOrNames []string, useContext context.Context) ([]Sample, error)
	ReadRaw(
		idsOrNames []string,
		start, end time.Time,
		boundary BoundaryType,
		sampleCount int,
		useContext context.Context,
	) ([]Sample, error)
	AddSeries(defs []Definition) error
	LoopingEnabled() bool
	Window() (time.Time, time.Time)
}

// seriesData recorded samples of one series
type seriesData struct {
	def    Definition
	times  []int64
	points map[int64]Point
}

// loopingStoreImpl implements Store
type loopingStoreImpl struct {
	common.Component
	// lock guards the series index against AddSeries; recorded samples are
	// immutable after construction
	lock      sync.RWMutex
	series    map[string]*seriesData
	nameIndex map[string]string
	timeline  []int64
	earliest  int64
	latest    int64
	duration  int64
	looping   bool
	metrics   *metric.StoreMetrics
}

// GetLoopingStoreInstance build a store from a set of samples.
//
// Samples may arrive in any order; per-series duplicate timestamps keep the
// last sample seen. Samples referencing a series without a definition get a
// minimal definition derived from the series ID. metrics may be nil.
func GetLoopingStoreInstance(
	name string,
	defs []Definition,
	samples []Sample,
	enableLooping bool,
	metrics *metric.StoreMetrics,
) (Store, error) {
	logTags := log.Fields{
		"module": "series", "component": "looping-store", "instance": name,
	}
	instance := loopingStoreImpl{
		Component: common.Component{LogTags: logTags},
		series:    make(map[string]*seriesData),
		nameIndex: make(map[string]string),
		looping:   enableLooping,
		metrics:   metrics,
	}
	for _, def := range defs {
		if err := instance.indexDefinition(def); err != nil {
			return nil, err
		}
	}
	timelineSet := make(map[int64]struct{})
	for _, sample := range samples {
		data, ok := instance.series[sample.SeriesID]
		if !ok {
			if err := instance.indexDefinition(
				Definition{ID: sample.SeriesID, Name: sample.SeriesID},
			); err != nil {
				return nil, err
			}
			data = instance.series[sample.SeriesID]
		}
		point := sample.Point
		point.Timestamp = point.Timestamp.UTC()
		key := point.Timestamp.UnixNano()
		data.points[key] = point
		timelineSet[key] = struct{}{}
	}
	for _, data := range instance.series {
		data.times = make([]int64, 0, len(data.points))
		for key := range data.points {
			data.times = append(data.times, key)
		}
		sort.Slice(data.times, func(i, j int) bool { return data.times[i] < data.times[j] })
	}
	instance.timeline = make([]int64, 0, len(timelineSet))
	for key := range timelineSet {
		instance.timeline = append(instance.timeline, key)
	}
	sort.Slice(instance.timeline, func(i, j int) bool {
		return instance.timeline[i] < instance.timeline[j]
	})
	if len(instance.timeline) > 0 {
		instance.earliest = instance.timeline[0]
		instance.latest = instance.timeline[len(instance.timeline)-1]
		instance.duration = instance.latest - instance.earliest
	}
	log.WithFields(logTags).Infof(
		"Loaded %d series spanning %s, looping %t",
		len(instance.series),
		time.Duration(instance.duration),
		enableLooping,
	)
	return &instance, nil
}

func (s *loopingStoreImpl) indexDefinition(def Definition) error {
	if def.ID == "" {
		return fmt.Errorf("series definition missing an ID")
	}
	if _, exists := s.series[def.ID]; exists {
		return fmt.Errorf("series %s defined twice", def.ID)
	}
	s.series[def.ID] = &seriesData{def: def, points: make(map[int64]Point)}
	s.nameIndex[strings.ToLower(def.Name)] = def.ID
	return nil
}

// LoopingEnabled whether the dataset window repeats indefinitely
func (s *loopingStoreImpl) LoopingEnabled() bool {
	return s.looping
}

// Window the earliest and latest recorded timestamps
func (s *loopingStoreImpl) Window() (time.Time, time.Time) {
	return time.Unix(0, s.earliest).UTC(), time.Unix(0, s.latest).UTC()
}

// AddSeries append definitions for series not present in the source data.
// Only the definition index changes; no historical samples are attached.
func (s *loopingStoreImpl) AddSeries(defs []Definition) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, def := range defs {
		if err := s.indexDefinition(def); err != nil {
			return err
		}
		log.WithFields(s.LogTags).Infof("Added supplementary series %s", def.ID)
	}
	return nil
}

// ----------------------------------------------------------------------------------------

// FindSeries list series whose ID or name contains the filter string. An
// empty filter matches everything.
func (s *loopingStoreImpl) FindSeries(
	filter string, useContext context.Context,
) ([]Definition, error) {
	if err := useContext.Err(); err != nil {
		return nil, err
	}
	started := time.Now()
	needle := strings.ToLower(filter)
	s.lock.RLock()
	results := make([]Definition, 0, len(s.series))
	for _, data := range s.series {
		if needle == "" ||
			strings.Contains(strings.ToLower(data.def.ID), needle) ||
			strings.Contains(strings.ToLower(data.def.Name), needle) {
			results = append(results, data.def)
		}
	}
	s.lock.RUnlock()
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	s.observe("find", started, 0)
	return results, nil
}

// GetSeries fetch definitions by ID or name. Unknown entries are skipped.
func (s *loopingStoreImpl) GetSeries(
	idsOrNames []string, useContext context.Context,
) ([]Definition, error) {
	if err := useContext.Err(); err != nil {
		return nil, err
	}
	started := time.Now()
	s.lock.RLock()
	resolved := s.resolve(idsOrNames)
	s.lock.RUnlock()
	results := make([]Definition, 0, len(resolved))
	for _, data := range resolved {
		results = append(results, data.def)
	}
	s.observe("get", started, 0)
	return results, nil
}

// resolve map requested IDs or names onto series data, skipping misses and
// duplicates. Caller must hold the lock.
func (s *loopingStoreImpl) resolve(idsOrNames []string) []*seriesData {
	resolved := make([]*seriesData, 0, len(idsOrNames))
	taken := make(map[string]struct{})
	for _, key := range idsOrNames {
		data, ok := s.series[key]
		if !ok {
			id, found := s.nameIndex[strings.ToLower(key)]
			if !found {
				log.WithFields(s.LogTags).Debugf("Ignoring unknown series %s", key)
				continue
			}
			data = s.series[id]
		}
		if _, dup := taken[data.def.ID]; dup {
			continue
		}
		taken[data.def.ID] = struct{}{}
		resolved = append(resolved, data)
	}
	return resolved
}

// ----------------------------------------------------------------------------------------

// ReadSnapshot the value each requested series held at instant now.
//
// Without looping the answer clamps to the nearest recorded sample when now
// falls outside the recorded window. With looping the window is shifted by
// whole multiples of its duration until it contains now, and the answering
// sample is emitted with its timestamp shifted accordingly.
func (s *loopingStoreImpl) ReadSnapshot(
	now time.Time, idsOrNames []string, useContext context.Context,
) ([]Sample, error) {
	started := time.Now()
	s.lock.RLock()
	defer s.lock.RUnlock()
	resolved := s.resolve(idsOrNames)
	nowN := now.UTC().UnixNano()

	// Shift the window by whole durations until now falls inside the replay
	// cycle the shifted window opens. Looking back up to one full duration
	// past the window end keeps the final sample of a cycle the answer until
	// the next cycle produces a newer one.
	offset := int64(0)
	withinWindow := len(s.timeline) > 0 && nowN >= s.earliest && nowN <= s.latest
	if s.looping && s.duration > 0 {
		for nowN < s.earliest+offset {
			offset -= s.duration
		}
		for nowN >= s.latest+s.duration+offset {
			offset += s.duration
		}
	}

	samples := make([]Sample, 0, len(resolved))
	for _, data := range resolved {
		if err := useContext.Err(); err != nil {
			return nil, err
		}
		if len(data.times) == 0 {
			continue
		}
		if s.looping && !withinWindow && s.duration == 0 {
			// A zero-duration window cannot be replayed
			continue
		}
		pos := lastIndexLE(data.times, nowN-offset)
		emitOffset := offset
		if pos < 0 {
			if s.looping && s.duration > 0 {
				// Wrap to the final sample of the previous cycle
				pos = len(data.times) - 1
				emitOffset = offset - s.duration
			} else {
				// Clamp to the first recorded sample
				pos = 0
			}
		}
		samples = append(samples, shiftedSample(data, data.times[pos], emitOffset))
	}
	s.observe("snapshot", started, len(samples))
	return samples, nil
}

// ----------------------------------------------------------------------------------------

// ReadRaw recorded samples of the requested series between start and end.
//
// sampleCount caps the total number of emitted samples across all series; a
// value of zero means unlimited. With looping enabled the stored window
// replays as often as needed to cover the requested range.
func (s *loopingStoreImpl) ReadRaw(
	idsOrNames []string,
	start, end time.Time,
	boundary BoundaryType,
	sampleCount int,
	useContext context.Context,
) ([]Sample, error) {
	started := time.Now()
	s.lock.RLock()
	defer s.lock.RUnlock()
	resolved := s.resolve(idsOrNames)
	startN := start.UTC().UnixNano()
	endN := end.UTC().UnixNano()

	if len(s.timeline) == 0 || len(resolved) == 0 || endN < startN {
		s.observe("raw", started, 0)
		return []Sample{}, nil
	}

	var samples []Sample
	var err error
	if !s.looping || s.duration == 0 || (startN >= s.earliest && endN <= s.latest) {
		samples, err = s.readRawDirect(resolved, startN, endN, sampleCount, useContext)
	} else {
		samples, err = s.readRawLooping(resolved, startN, endN, boundary, sampleCount, useContext)
	}
	if err != nil {
		return nil, err
	}
	s.observe("raw", started, len(samples))
	return samples, nil
}

// readRawDirect emit stored samples within [start, end] without offset math
func (s *loopingStoreImpl) readRawDirect(
	resolved []*seriesData, startN, endN int64, sampleCount int, useContext context.Context,
) ([]Sample, error) {
	samples := []Sample{}
	for idx := firstIndexGE(s.timeline, startN); idx < len(s.timeline); idx++ {
		if err := useContext.Err(); err != nil {
			return nil, err
		}
		key := s.timeline[idx]
		if key > endN {
			break
		}
		for _, data := range resolved {
			if _, ok := data.points[key]; !ok {
				continue
			}
			samples = append(samples, shiftedSample(data, key, 0))
			if sampleCount > 0 && len(samples) >= sampleCount {
				return samples, nil
			}
		}
	}
	return samples, nil
}

// readRawLooping replay the stored window as often as needed to cover the
// requested range, shifting emitted timestamps by whole window durations.
func (s *loopingStoreImpl) readRawLooping(
	resolved []*seriesData,
	startN, endN int64,
	boundary BoundaryType,
	sampleCount int,
	useContext context.Context,
) ([]Sample, error) {
	// Shift the window until it covers the range start. The window end is
	// treated exclusively here so that a start on the seam begins a fresh
	// replay cycle.
	offset := int64(0)
	for startN < s.earliest+offset {
		offset -= s.duration
	}
	for startN >= s.latest+offset {
		offset += s.duration
	}

	idx := firstIndexGE(s.timeline, startN-offset)
	if boundary == BoundaryOutside && s.timeline[idx]+offset > startN {
		// Bracket the range on the left with one sample at or before start
		if idx == 0 {
			idx = len(s.timeline) - 1
			offset -= s.duration
		} else {
			idx--
		}
	}

	samples := []Sample{}
	endHitExactly := false
	emitAt := func(key, shifted int64) bool {
		for _, data := range resolved {
			if _, ok := data.points[key]; !ok {
				continue
			}
			samples = append(samples, shiftedSample(data, key, shifted-key))
			if sampleCount > 0 && len(samples) >= sampleCount {
				return false
			}
		}
		return true
	}

	for {
		// A tight range over a tiny window can replay for a long time, so
		// honor cancellation on every cycle
		if err := useContext.Err(); err != nil {
			return nil, err
		}
		for ; idx < len(s.timeline); idx++ {
			key := s.timeline[idx]
			shifted := key + offset
			if shifted > endN {
				if boundary == BoundaryOutside && !endHitExactly {
					// Bracket the range on the right with a single sample
					// strictly past end
					emitAt(key, shifted)
				}
				return samples, nil
			}
			if shifted == endN {
				if endHitExactly {
					// A replay restart lands the first stored sample on the
					// seam already emitted for the end instant
					return samples, nil
				}
				endHitExactly = true
			}
			if !emitAt(key, shifted) {
				return samples, nil
			}
		}
		offset += s.duration
		idx = 0
	}
}

// ----------------------------------------------------------------------------------------

// shiftedSample build the outgoing sample for one stored point, moving its
// timestamp by the given offset
func shiftedSample(data *seriesData, key int64, offset int64) Sample {
	point := data.points[key]
	if offset != 0 {
		point.Timestamp = time.Unix(0, key+offset).UTC()
	}
	return Sample{SeriesID: data.def.ID, Point: point}
}

// firstIndexGE index of the first element >= target, len(list) when none
func firstIndexGE(list []int64, target int64) int {
	return sort.Search(len(list), func(i int) bool { return list[i] >= target })
}

// lastIndexLE index of the last element <= target, -1 when none
func lastIndexLE(list []int64, target int64) int {
	return sort.Search(len(list), func(i int) bool { return list[i] > target }) - 1
}

func (s *loopingStoreImpl) observe(operation string, started time.Time, emitted int) {
	if s.metrics == nil {
		return
	}
	s.metrics.Queries.WithLabelValues(operation).Inc()
	s.metrics.QueryDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	if emitted > 0 {
		s.metrics.SamplesReturned.Add(float64(emitted))
	}
}
