package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldBoolean(t *testing.T) {
	v, err := ParseField(SettingBoolean, "on")
	require.NoError(t, err)
	assert.Equal(t, "true", v)

	v, err = ParseField(SettingBoolean, "off")
	require.NoError(t, err)
	assert.Equal(t, "false", v)

	_, err = ParseField(SettingBoolean, "maybe")
	assert.Error(t, err)
}

func TestParseFieldInteger(t *testing.T) {
	v, err := ParseField(SettingInteger, "42")
	require.NoError(t, err)
	assert.Equal(t, "42", v)
}

func TestParseFieldBytesWithUnit(t *testing.T) {
	v, err := ParseField(SettingBytes, "128MB")
	require.NoError(t, err)
	assert.Equal(t, "134217728", v)
}

func TestParseFieldBytesSpecialCases(t *testing.T) {
	v, err := ParseField(SettingBytes, "-1")
	require.NoError(t, err)
	assert.Equal(t, "-1", v)

	v, err = ParseField(SettingBytes, "0")
	require.NoError(t, err)
	assert.Equal(t, "0", v)
}

func TestParseFieldIntegerTime(t *testing.T) {
	v, err := ParseField(SettingIntegerTime, "60s")
	require.NoError(t, err)
	assert.Equal(t, "60000", v)

	v, err = ParseField(SettingIntegerTime, "-1")
	require.NoError(t, err)
	assert.Equal(t, "-1", v)
}

func TestParseFieldFloatTime(t *testing.T) {
	v, err := ParseField(SettingFloatTime, "20ms")
	require.NoError(t, err)
	assert.Equal(t, "20", v)

	v, err = ParseField(SettingFloatTime, "0")
	require.NoError(t, err)
	assert.Equal(t, "0", v)
}

func TestParseFieldFloat(t *testing.T) {
	v, err := ParseField(SettingFloat, "0.2")
	require.NoError(t, err)
	assert.Equal(t, "0.2", v)
}

func TestKnobsTableCoversKeySettings(t *testing.T) {
	for _, name := range []string{"shared_buffers", "autovacuum", "jit", "maintenance_work_mem"} {
		_, ok := Knobs[name]
		assert.True(t, ok, "expected %s in Knobs", name)
	}
}
