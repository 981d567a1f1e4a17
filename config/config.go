package config

import (
	"context"
	"errors"
	"maps"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"dario.cat/mergo"
	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"
)

// C holds the merged settings of every config file found under one path.
type C struct {
	path        string
	files       []string
	Settings    map[string]any
	oldSettings map[string]any
	callbacks   []func(*C)
	l           *logrus.Logger
	reloadLock  sync.Mutex
}

func NewC(l *logrus.Logger) *C {
	return &C{
		Settings: make(map[string]any),
		l:        l,
	}
}

// Load reads every yaml file found at path, see findFiles, and merges them in
// lexical order. Later files win on scalars, lists are appended so devices
// may be spread over several files.
func (c *C) Load(path string) error {
	files, err := findFiles(path)
	if err != nil {
		return err
	}

	c.path = path
	c.files = files

	var merged map[string]any
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}

		var m map[string]any
		if err := yaml.Unmarshal(b, &m); err != nil {
			return err
		}

		if err := mergo.Merge(&m, merged, mergo.WithAppendSlice); err != nil {
			return err
		}
		merged = m
	}

	c.Settings = merged
	return nil
}

// LoadString replaces the settings with the yaml document in raw.
func (c *C) LoadString(raw string) error {
	if raw == "" {
		return errors.New("Empty configuration")
	}

	var m map[string]any
	if err := yaml.Unmarshal([]byte(raw), &m); err != nil {
		return err
	}

	c.Settings = m
	return nil
}

// RegisterReloadCallback adds f to the functions run after every successful
// reload. Callbacks should use HasChanged to skip work and must not block.
func (c *C) RegisterReloadCallback(f func(*C)) {
	c.callbacks = append(c.callbacks, f)
}

// InitialLoad is true until the first reload.
func (c *C) InitialLoad() bool {
	return c.oldSettings == nil
}

// HasChanged reports whether k differs between the settings before and after
// the last reload, the empty key compares everything. Values are compared by
// their yaml encoding so reordered maps may look changed.
func (c *C) HasChanged(k string) bool {
	if c.oldSettings == nil {
		return false
	}

	var nv, ov any = c.Settings, c.oldSettings
	if k != "" {
		nv = c.get(k, c.Settings)
		ov = c.get(k, c.oldSettings)
	} else {
		k = "all settings"
	}

	return c.marshal(k, "new", nv) != c.marshal(k, "old", ov)
}

func (c *C) marshal(k, which string, v any) string {
	b, err := yaml.Marshal(v)
	if err != nil {
		c.l.WithField("config_path", k).WithError(err).Errorf("Error while marshaling %s config", which)
	}
	return string(b)
}

// CatchHUP reloads the config from the path given to Load on every SIGHUP
// until ctx is done.
func (c *C) CatchHUP(ctx context.Context) {
	if c.path == "" {
		return
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				c.l.Info("Caught HUP, reloading config")
				c.ReloadConfig()
			}
		}
	}()
}

// ReloadConfig loads the files again and runs the reload callbacks. A failed
// load is logged and the previous settings stay.
func (c *C) ReloadConfig() {
	err := c.reload(func() error { return c.Load(c.path) })
	if err != nil {
		c.l.WithField("config_path", c.path).WithError(err).Error("Error occurred while reloading config")
	}
}

func (c *C) ReloadConfigString(raw string) error {
	return c.reload(func() error { return c.LoadString(raw) })
}

func (c *C) reload(load func() error) error {
	c.reloadLock.Lock()
	defer c.reloadLock.Unlock()

	prev := maps.Clone(c.Settings)
	if prev == nil {
		prev = map[string]any{}
	}

	if err := load(); err != nil {
		c.Settings = prev
		return err
	}

	c.oldSettings = prev
	for _, f := range c.callbacks {
		f(c)
	}
	return nil
}

// Get returns the raw value at the dotted key k, or nil.
func (c *C) Get(k string) any {
	return c.get(k, c.Settings)
}

func (c *C) IsSet(k string) bool {
	return c.get(k, c.Settings) != nil
}

func (c *C) get(k string, v any) any {
	for _, p := range strings.Split(k, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}

		if v, ok = m[p]; !ok {
			return nil
		}
	}
	return v
}
