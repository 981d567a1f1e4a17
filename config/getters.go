package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// GetString will get the string for k or return the default d if not found
func (c *C) GetString(k, d string) string {
	r := c.Get(k)
	if r == nil {
		return d
	}
	return fmt.Sprint(r)
}

// GetStringSlice will get the slice of strings for k or return the default d if not found or invalid
func (c *C) GetStringSlice(k string, d []string) []string {
	rv, ok := c.Get(k).([]any)
	if !ok {
		return d
	}

	v := make([]string, len(rv))
	for i, x := range rv {
		v[i] = fmt.Sprint(x)
	}
	return v
}

// GetMap will get the map for k or return the default d if not found or invalid
func (c *C) GetMap(k string, d map[string]any) map[string]any {
	v, ok := c.Get(k).(map[string]any)
	if !ok {
		return d
	}
	return v
}

// GetMapSlice returns the list of maps at k, such as platform.devices. A
// missing key is an empty list, anything that is not a list of maps is an
// error naming the offending entry.
func (c *C) GetMapSlice(k string) ([]map[string]any, error) {
	r := c.Get(k)
	if r == nil {
		return nil, nil
	}

	rv, ok := r.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a list, got %T", k, r)
	}

	v := make([]map[string]any, len(rv))
	for i, x := range rv {
		m, ok := x.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be a map, got %T", k, i, x)
		}
		v[i] = m
	}
	return v, nil
}

// GetInt will get the int for k or return the default d if not found or invalid
func (c *C) GetInt(k string, d int) int {
	switch x := c.Get(k).(type) {
	case nil:
		return d
	case int:
		return x
	default:
		v, err := strconv.Atoi(fmt.Sprint(x))
		if err != nil {
			return d
		}
		return v
	}
}

// GetUint32 will get the uint32 for k or return the default d if not found or
// invalid. Strings may carry a 0x prefix.
func (c *C) GetUint32(k string, d uint32) uint32 {
	r := c.Get(k)
	if r == nil {
		return d
	}

	v, err := AsUint32(r)
	if err != nil {
		return d
	}
	return v
}

// GetBool will get the bool for k or return the default d if not found or invalid
func (c *C) GetBool(k string, d bool) bool {
	r := c.Get(k)
	if r == nil {
		return d
	}

	if v, ok := AsBool(r); ok {
		return v
	}

	v, err := strconv.ParseBool(strings.ToLower(fmt.Sprint(r)))
	if err != nil {
		return d
	}
	return v
}

// GetDuration will get the duration for k or return the default d if not found or invalid
func (c *C) GetDuration(k string, d time.Duration) time.Duration {
	v, err := time.ParseDuration(c.GetString(k, ""))
	if err != nil {
		return d
	}
	return v
}

// AsBool accepts yaml booleans and y/yes/n/no in any case.
func AsBool(v any) (value bool, ok bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch strings.ToLower(x) {
		case "y", "yes":
			return true, true
		case "n", "no":
			return false, true
		}
	}
	return false, false
}

// AsUint32 converts a yaml scalar to a 32 bit cell. yaml reads 0x30000000 as
// an int, quoted values go through strconv with base prefixes allowed.
func AsUint32(v any) (uint32, error) {
	switch x := v.(type) {
	case int:
		if x < 0 || uint64(x) > math.MaxUint32 {
			return 0, fmt.Errorf("%d does not fit in a cell", x)
		}
		return uint32(x), nil
	case uint64:
		if x > math.MaxUint32 {
			return 0, fmt.Errorf("%d does not fit in a cell", x)
		}
		return uint32(x), nil
	default:
		u, err := strconv.ParseUint(fmt.Sprint(v), 0, 32)
		if err != nil {
			return 0, err
		}
		return uint32(u), nil
	}
}

// AsUint32Slice converts a yaml list to cells, as used for dma windows.
func AsUint32Slice(v any) ([]uint32, error) {
	rv, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("must be a list of cells, got %T", v)
	}

	cells := make([]uint32, len(rv))
	for i, x := range rv {
		var err error
		if cells[i], err = AsUint32(x); err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
	}
	return cells, nil
}
