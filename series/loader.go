package series

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/dataforge-io/serieshub/metric"
	"github.com/go-playground/validator/v10"
)

// LoaderConfig parameters for loading a dataset from a delimited byte stream.
//
// The first row names the series, one column per series, with timestamps in
// the column at TimestampColumn. Every following row carries one timestamp
// and the sample each series recorded at that instant; empty cells mean the
// series has no sample there.
type LoaderConfig struct {
	// Source the byte stream to ingest
	Source io.Reader `validate:"required"`
	// TimeZone optional IANA time zone name timestamps are interpreted in.
	// Defaults to the local time zone.
	TimeZone string
	// TimestampFormat optional Go reference layout for the timestamp column
	TimestampFormat string
	// TimestampColumn zero-based index of the timestamp column
	TimestampColumn int `validate:"gte=0"`
	// EnableLooping whether the loaded window repeats indefinitely
	EnableLooping bool
}

// timestampLayouts layouts tried in order when no explicit format is given
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// LoadStore ingest a dataset per the config and build a Store over it.
//
// Configuration problems (unknown time zone, timestamp column beyond the row
// width, unparsable timestamps) fail the load. A source with no data rows is
// legal and yields an empty store.
func LoadStore(
	name string, config LoaderConfig, metrics *metric.StoreMetrics,
) (Store, error) {
	logTags := log.Fields{
		"module": "series", "component": "loader", "instance": name,
	}
	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Loader config invalid")
		return nil, err
	}

	location := time.Local
	if config.TimeZone != "" {
		loaded, err := time.LoadLocation(config.TimeZone)
		if err != nil {
			log.WithError(err).WithFields(logTags).Errorf(
				"Unknown time zone %s", config.TimeZone,
			)
			return nil, fmt.Errorf("unknown time zone %s: %w", config.TimeZone, err)
		}
		location = loaded
	}

	reader := csv.NewReader(config.Source)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		log.WithFields(logTags).Warn("Source stream is empty")
		return GetLoopingStoreInstance(name, nil, nil, config.EnableLooping, metrics)
	}
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to read header row")
		return nil, err
	}
	if config.TimestampColumn >= len(header) {
		err := fmt.Errorf(
			"timestamp column %d beyond row width %d", config.TimestampColumn, len(header),
		)
		log.WithError(err).WithFields(logTags).Error("Loader config invalid")
		return nil, err
	}

	// One series per non-timestamp column
	defs := make([]Definition, 0, len(header)-1)
	columnSeries := make(map[int]int)
	for column, raw := range header {
		if column == config.TimestampColumn {
			continue
		}
		seriesName := strings.TrimSpace(raw)
		columnSeries[column] = len(defs)
		defs = append(defs, Definition{ID: seriesName, Name: seriesName, Kind: KindNumeric})
	}
	stateCodes := make([]map[string]int64, len(defs))

	var samples []Sample
	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			log.WithError(err).WithFields(logTags).Errorf("Failed to read row %d", row)
			return nil, err
		}
		if config.TimestampColumn >= len(record) {
			return nil, fmt.Errorf(
				"row %d has no timestamp column %d", row, config.TimestampColumn,
			)
		}
		timestamp, err := parseTimestamp(
			record[config.TimestampColumn], config.TimestampFormat, location,
		)
		if err != nil {
			log.WithError(err).WithFields(logTags).Errorf("Bad timestamp on row %d", row)
			return nil, err
		}
		for column, defIdx := range columnSeries {
			if column >= len(record) {
				continue
			}
			cell := strings.TrimSpace(record[column])
			if cell == "" {
				continue
			}
			point := Point{Timestamp: timestamp.UTC()}
			if numeric, err := strconv.ParseFloat(cell, 64); err == nil {
				point.Value = numeric
			} else {
				// Non-numeric cells turn the series into a discrete-state
				// series, coding states by order of first appearance
				def := &defs[defIdx]
				def.Kind = KindDiscrete
				if stateCodes[defIdx] == nil {
					stateCodes[defIdx] = make(map[string]int64)
					def.States = make(map[int64]string)
				}
				code, known := stateCodes[defIdx][cell]
				if !known {
					code = int64(len(stateCodes[defIdx]))
					stateCodes[defIdx][cell] = code
					def.States[code] = cell
				}
				point.Value = float64(code)
				point.Label = cell
			}
			samples = append(samples, Sample{SeriesID: defs[defIdx].ID, Point: point})
		}
	}

	log.WithFields(logTags).Infof(
		"Parsed %d samples across %d series from %d rows", len(samples), len(defs), row-1,
	)
	return GetLoopingStoreInstance(name, defs, samples, config.EnableLooping, metrics)
}

// parseTimestamp parse one timestamp cell in the given location
func parseTimestamp(cell, format string, location *time.Location) (time.Time, error) {
	cell = strings.TrimSpace(cell)
	if format != "" {
		return time.ParseInLocation(format, cell, location)
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, cell, location); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("can not parse timestamp %s", cell)
}
