package series

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadStoreFromCSV(t *testing.T) {
	assert := assert.New(t)

	source := strings.NewReader(
		"time,Boiler Temperature,Pump State\n" +
			"2023-01-01T00:00:00Z,70.5,Stopped\n" +
			"2023-01-01T00:00:10Z,71.0,Running\n" +
			"2023-01-01T00:00:20Z,,Stopped\n",
	)
	uut, err := LoadStore("unit-test", LoaderConfig{
		Source:        source,
		EnableLooping: true,
	}, nil)
	assert.Nil(err)
	ctxt := context.Background()

	defs, err := uut.FindSeries("", ctxt)
	assert.Nil(err)
	assert.Len(defs, 2)

	// Numeric column
	temperature, err := uut.GetSeries([]string{"Boiler Temperature"}, ctxt)
	assert.Nil(err)
	assert.Len(temperature, 1)
	assert.Equal(KindNumeric, temperature[0].Kind)

	// Discrete column with states coded by first appearance
	pump, err := uut.GetSeries([]string{"Pump State"}, ctxt)
	assert.Nil(err)
	assert.Len(pump, 1)
	assert.Equal(KindDiscrete, pump[0].Kind)
	assert.Equal(map[int64]string{0: "Stopped", 1: "Running"}, pump[0].States)

	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	samples, err := uut.ReadRaw(
		[]string{"Pump State"}, base, base.Add(time.Second*20), BoundaryInside, 0, ctxt,
	)
	assert.Nil(err)
	assert.Len(samples, 3)
	assert.Equal("Stopped", samples[0].Label)
	assert.Equal(0.0, samples[0].Value)
	assert.Equal("Running", samples[1].Label)
	assert.Equal(1.0, samples[1].Value)
	assert.Equal("Stopped", samples[2].Label)

	// The empty temperature cell left a gap
	samples, err = uut.ReadRaw(
		[]string{"Boiler Temperature"}, base, base.Add(time.Second*20), BoundaryInside, 0, ctxt,
	)
	assert.Nil(err)
	assert.Len(samples, 2)
	assert.Equal(70.5, samples[0].Value)
	assert.Equal(71.0, samples[1].Value)
}

func TestLoadStoreTimestampHandling(t *testing.T) {
	assert := assert.New(t)

	// Case 1: explicit format and time zone
	source := strings.NewReader(
		"value,time\n" +
			"1,01/02/2023 15:04\n" +
			"2,01/02/2023 15:05\n",
	)
	uut, err := LoadStore("unit-test", LoaderConfig{
		Source:          source,
		TimeZone:        "UTC",
		TimestampFormat: "01/02/2006 15:04",
		TimestampColumn: 1,
	}, nil)
	assert.Nil(err)
	ctxt := context.Background()

	expected := time.Date(2023, 1, 2, 15, 4, 0, 0, time.UTC)
	samples, err := uut.ReadSnapshot(expected, []string{"value"}, ctxt)
	assert.Nil(err)
	assert.Len(samples, 1)
	assert.Equal(expected, samples[0].Timestamp)
	assert.Equal(1.0, samples[0].Value)

	// Case 2: bad timestamp fails the load
	source = strings.NewReader("time,value\nnot-a-time,1\n")
	_, err = LoadStore("unit-test", LoaderConfig{Source: source}, nil)
	assert.NotNil(err)
}

func TestLoadStoreConfigErrors(t *testing.T) {
	assert := assert.New(t)

	// Case 1: missing source
	_, err := LoadStore("unit-test", LoaderConfig{}, nil)
	assert.NotNil(err)

	// Case 2: unknown time zone
	_, err = LoadStore("unit-test", LoaderConfig{
		Source:   strings.NewReader("time,value\n"),
		TimeZone: "Mars/Olympus_Mons",
	}, nil)
	assert.NotNil(err)

	// Case 3: timestamp column beyond the row width
	_, err = LoadStore("unit-test", LoaderConfig{
		Source:          strings.NewReader("time,value\n"),
		TimestampColumn: 5,
	}, nil)
	assert.NotNil(err)

	// Case 4: an empty stream is a legal degenerate dataset
	uut, err := LoadStore("unit-test", LoaderConfig{
		Source: strings.NewReader(""),
	}, nil)
	assert.Nil(err)
	samples, err := uut.ReadSnapshot(time.Now(), []string{"anything"}, context.Background())
	assert.Nil(err)
	assert.Empty(samples)
}
