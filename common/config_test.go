package common

import (
	"bytes"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestViperConfigParsing(t *testing.T) {
	assert := assert.New(t)

	validate := validator.New()

	// Case 0: parse config with no defaults in place
	{
		viper.Reset()
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.NotNil(validate.Struct(&cfg))
	}

	// Case 1: defaults plus the one required field
	{
		viper.Reset()
		InstallDefaultConfigValues()
		viper.Set("source.file", "test.csv")
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.Nil(validate.Struct(&cfg))
		assert.Equal(64, cfg.Hub.QueueDepth)
		assert.Equal(1000, cfg.Poller.IntervalMS)
		assert.True(cfg.Source.EnableLooping)
		assert.Equal("/metrics", cfg.Metrics.Path)
	}

	// Case 2: invalid override is caught by validation
	{
		viper.Reset()
		InstallDefaultConfigValues()
		config := []byte(`---
source:
  file: test.csv
metrics:
  listen_on: not-an-ip`)
		viper.SetConfigType("yaml")
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.NotNil(validate.Struct(&cfg))
	}
}
