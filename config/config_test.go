package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwarrum-ibm/ibmvsm/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Load(t *testing.T) {
	l := test.NewLogger()
	dir := t.TempDir()

	// invalid yaml
	c := NewC(l)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01.yaml"), []byte(" invalid yaml"), 0644))
	assert.Error(t, c.Load(dir))

	// simple multi config merge
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01.yaml"), []byte("outer:\n  inner: hi\nlist:\n  - one"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "02.yml"), []byte("outer:\n  inner: override\nnew: hi\nlist:\n  - two"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("new: nope"), 0644))

	c = NewC(l)
	require.NoError(t, c.Load(dir))
	assert.Equal(t, "override", c.GetString("outer.inner", ""))
	assert.Equal(t, "hi", c.GetString("new", ""))
	assert.ElementsMatch(t, []string{"one", "two"}, c.GetStringSlice("list", nil))

	// empty directory
	empty := t.TempDir()
	c = NewC(l)
	assert.EqualError(t, c.Load(empty), "no config files found at "+empty)
}

func TestConfig_Get(t *testing.T) {
	l := test.NewLogger()
	// test simple type
	c := NewC(l)
	c.Settings["vterm"] = map[string]any{"slots": "hi"}
	assert.Equal(t, "hi", c.Get("vterm.slots"))

	// test complex type
	inner := []map[string]any{{"name": "vsm0", "unit_address": "0x30000000"}}
	c.Settings["platform"] = map[string]any{"devices": inner}
	assert.EqualValues(t, inner, c.Get("platform.devices"))

	// test missing
	assert.Nil(t, c.Get("platform.nope"))
	assert.False(t, c.IsSet("platform.nope"))
	assert.True(t, c.IsSet("platform.devices"))
}

func TestConfig_GetStringSlice(t *testing.T) {
	l := test.NewLogger()
	c := NewC(l)
	c.Settings["slice"] = []any{"one", "two"}
	assert.Equal(t, []string{"one", "two"}, c.GetStringSlice("slice", []string{}))
}

func TestConfig_GetInt(t *testing.T) {
	l := test.NewLogger()
	c := NewC(l)
	c.Settings["int"] = 3
	assert.Equal(t, 3, c.GetInt("int", 1))

	c.Settings["int"] = "nope"
	assert.Equal(t, 1, c.GetInt("int", 1))

	c.Settings["int"] = -1
	assert.Equal(t, uint32(7), c.GetUint32("int", 7))
	assert.Equal(t, 9, c.GetInt("missing", 9))
}

func TestConfig_GetDuration(t *testing.T) {
	l := test.NewLogger()
	c := NewC(l)
	c.Settings["d"] = "10s"
	assert.Equal(t, 10*time.Second, c.GetDuration("d", time.Second))

	c.Settings["d"] = "ten"
	assert.Equal(t, time.Second, c.GetDuration("d", time.Second))
}

func TestConfig_GetBool(t *testing.T) {
	l := test.NewLogger()
	c := NewC(l)
	c.Settings["bool"] = true
	assert.Equal(t, true, c.GetBool("bool", false))

	c.Settings["bool"] = "true"
	assert.Equal(t, true, c.GetBool("bool", false))

	c.Settings["bool"] = false
	assert.Equal(t, false, c.GetBool("bool", true))

	c.Settings["bool"] = "false"
	assert.Equal(t, false, c.GetBool("bool", true))

	c.Settings["bool"] = "Y"
	assert.Equal(t, true, c.GetBool("bool", false))

	c.Settings["bool"] = "yEs"
	assert.Equal(t, true, c.GetBool("bool", false))

	c.Settings["bool"] = "N"
	assert.Equal(t, false, c.GetBool("bool", true))

	c.Settings["bool"] = "nO"
	assert.Equal(t, false, c.GetBool("bool", true))

	c.Settings["bool"] = "maybe"
	assert.Equal(t, true, c.GetBool("bool", true))
}

func TestConfig_HasChanged(t *testing.T) {
	l := test.NewLogger()
	// No reload has occurred, return false
	c := NewC(l)
	c.Settings["test"] = "hi"
	assert.False(t, c.HasChanged(""))

	// Test key change
	c = NewC(l)
	c.Settings["test"] = "hi"
	c.oldSettings = map[string]any{"test": "no"}
	assert.True(t, c.HasChanged("test"))
	assert.True(t, c.HasChanged(""))

	// No key change
	c = NewC(l)
	c.Settings["test"] = "hi"
	c.oldSettings = map[string]any{"test": "hi"}
	assert.False(t, c.HasChanged("test"))
	assert.False(t, c.HasChanged(""))
}

func TestConfig_ReloadConfig(t *testing.T) {
	l := test.NewLogger()
	done := make(chan bool, 1)

	c := NewC(l)
	require.NoError(t, c.LoadString("outer:\n  inner: hi"))
	assert.True(t, c.InitialLoad())

	assert.False(t, c.HasChanged("outer.inner"))
	assert.False(t, c.HasChanged("outer"))
	assert.False(t, c.HasChanged(""))

	c.RegisterReloadCallback(func(c *C) {
		done <- true
	})

	require.NoError(t, c.ReloadConfigString("outer:\n  inner: ho"))
	assert.False(t, c.InitialLoad())
	assert.True(t, c.HasChanged("outer.inner"))
	assert.True(t, c.HasChanged("outer"))
	assert.True(t, c.HasChanged(""))

	// Make sure we call the callbacks
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		panic("timeout")
	}
}

func TestConfig_GetUint32(t *testing.T) {
	c := NewC(test.NewLogger())
	require.NoError(t, c.LoadString("unit: 0x30000000\nquoted: \"0x10\"\nbig: 0x100000000\nword: nope\n"))

	assert.Equal(t, uint32(0x30000000), c.GetUint32("unit", 0))
	assert.Equal(t, uint32(0x10), c.GetUint32("quoted", 0))
	assert.Equal(t, uint32(5), c.GetUint32("big", 5))
	assert.Equal(t, uint32(5), c.GetUint32("word", 5))
	assert.Equal(t, uint32(5), c.GetUint32("missing", 5))
}

func TestAsUint32Slice(t *testing.T) {
	cells, err := AsUint32Slice([]any{0x10000000, 0, "0x1000"})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x10000000, 0, 0x1000}, cells)

	_, err = AsUint32Slice([]any{1, -1})
	assert.EqualError(t, err, "[1]: -1 does not fit in a cell")

	_, err = AsUint32Slice("0x10")
	assert.EqualError(t, err, "must be a list of cells, got string")
}

func TestConfig_GetMapSlice(t *testing.T) {
	c := NewC(test.NewLogger())

	v, err := c.GetMapSlice("platform.devices")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, c.LoadString("platform:\n  devices:\n    - name: vsm0\n    - vsm1\n"))
	_, err = c.GetMapSlice("platform.devices")
	assert.EqualError(t, err, "platform.devices[1] must be a map, got string")

	require.NoError(t, c.LoadString("platform:\n  devices: vsm0\n"))
	_, err = c.GetMapSlice("platform.devices")
	assert.EqualError(t, err, "platform.devices must be a list, got string")
}

func TestConfig_ReloadFailureKeepsSettings(t *testing.T) {
	c := NewC(test.NewLogger())
	require.NoError(t, c.LoadString("vterm:\n  slots: 4\n"))

	called := false
	c.RegisterReloadCallback(func(*C) { called = true })

	assert.Error(t, c.ReloadConfigString("vterm: [unclosed"))
	assert.False(t, called)
	assert.True(t, c.InitialLoad())
	assert.Equal(t, 4, c.GetInt("vterm.slots", 0))
}
