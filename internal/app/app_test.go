package app

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement-tracker-go/internal/config"
)

func TestNewButtondownClient(t *testing.T) {
	client, err := NewButtondownClient(config.ButtondownConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)

	client, err = NewButtondownClient(config.ButtondownConfig{APIKey: "key", APIBaseURL: "not a url"})
	assert.Error(t, err)
	assert.Nil(t, client)

	client, err = NewButtondownClient(config.ButtondownConfig{APIKey: "key", APIBaseURL: "https://api.buttondown.com/v1"})
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestConfigureLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)

	ConfigureLogging(config.LogConfig{Level: "debug"})
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	ConfigureLogging(config.LogConfig{Level: "loud"})
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
}
