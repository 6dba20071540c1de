package config_test

import (
	"testing"

	"github.com/fraqlab/coinscot/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestNewWithDefault(t *testing.T) {
	v := config.NewViperWithDefaults()

	assert.Equal(t, false, v.GetBool(config.DebugKey), "%s should be %t", config.DebugKey, false)
	assert.Equal(t, "~/.coinscot", v.GetString(config.StoragePathKey), "%s should be %s", config.StoragePathKey, "~/.coinscot")
	assert.Equal(t, 100, v.GetInt(config.UserInfoCacheSizeKey), "%s should be %d", config.UserInfoCacheSizeKey, 100)
	assert.Equal(t, "Local", v.GetString(config.TimeLocationKey), "%s should be %s", config.TimeLocationKey, "Local")
}

func TestGetTimeLocationWithDefault(t *testing.T) {
	v := viper.New()
	v.Set(config.TimeLocationKey, "Local")

	timeLoc, err := config.GetTimeLocation(v)

	assert.Nil(t, err)
	if assert.NotNil(t, timeLoc) {
		assert.Conditionf(t, func() bool { return timeLoc.String() == "Local" || timeLoc.String() == "UTC" }, "timeLoc should be either Local or UTC but was %s", timeLoc.String())
	}
}

func TestGetTimeLocationWithTimezoneId(t *testing.T) {
	v := viper.New()
	v.Set(config.TimeLocationKey, "America/Los_Angeles")

	timeLoc, err := config.GetTimeLocation(v)

	assert.Nil(t, err)
	if assert.NotNil(t, timeLoc) {
		assert.Equal(t, "America/Los_Angeles", timeLoc.String())
	}
}

func TestGetTimeLocationWithInvalidValue(t *testing.T) {
	v := viper.New()
	v.Set(config.TimeLocationKey, "invalid")

	_, err := config.GetTimeLocation(v)

	if assert.NotNil(t, err) {
		assert.Contains(t, err.Error(), "invalid")
	}
}

func TestGetPluginConfig(t *testing.T) {
	v := viper.New()
	configValues := map[string]interface{}{
		"feature1": true,
		"subFeature": map[string]string{
			"name":  "John",
			"email": "test@golang.org",
		},
	}
	// Set the test configuration
	v.Set(config.PluginsKey, map[string]interface{}{
		"pluginName": configValues,
	})

	pc := config.GetPluginConfig(v, "pluginName")

	if assert.NotNil(t, pc) {
		assert.Equal(t, true, pc.GetBool("feature1"))
		assert.Equal(t, configValues["subFeature"], pc.GetStringMapString("subFeature"))
	}
}

func TestGetPluginConfigWithMissingConfig(t *testing.T) {
	v := viper.New()

	pc := config.GetPluginConfig(v, "pluginName")

	if assert.NotNil(t, pc) {
		assert.Empty(t, pc.AllSettings())
	}
}

func TestGetIntList(t *testing.T) {
	testCases := []struct {
		name     string
		value    interface{}
		expected []int
	}{
		{"missing", nil, nil},
		{"list", []int{7, 11, 13}, []int{7, 11, 13}},
		{"stringList", []string{"7", "11"}, []int{7, 11}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := viper.New()
			if tc.value != nil {
				v.Set("divisors", tc.value)
			}

			assert.Equal(t, tc.expected, config.GetIntList(v, "divisors"))
		})
	}
}
