package vsm

import (
	"context"
	"fmt"

	"github.com/bwarrum-ibm/ibmvsm/config"
	"github.com/bwarrum-ibm/ibmvsm/platform"
	"github.com/bwarrum-ibm/ibmvsm/sshd"
	"github.com/bwarrum-ibm/ibmvsm/util"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"
	"golang.org/x/sync/errgroup"
)

// Version of the driver protocol implementation.
const Version = "0.1"

type m = map[string]any

// Main configures everything from c and attaches devices. A device that fails
// to attach is logged and left out, only configuration problems are returned.
func Main(c *config.C, configTest bool, buildVersion string, logger *logrus.Logger, hv platform.Platform, devices []platform.Device) (retcon *Control, reterr error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		if reterr != nil {
			cancel()
		}
	}()

	l := logger
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}

	if configTest {
		b, err := yaml.Marshal(c.Settings)
		if err != nil {
			return nil, err
		}
		l.Println(string(b))
	}

	if err := configLogger(l, c); err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to configure the logger", err)
	}
	c.RegisterReloadCallback(func(c *config.C) {
		if err := configLogger(l, c); err != nil {
			l.WithError(err).Error("Failed to configure the logger")
		}
	})

	if c.GetInt("vterm.slots", defaultVTermSlots) < 1 {
		return nil, util.NewContextualError("vterm.slots must be at least 1", m{"slots": c.Get("vterm.slots")}, nil)
	}
	ac := NewAdapterConfigFromConfig(c)

	ssh, err := sshd.NewSSHServer(l.WithField("subsystem", "sshd"))
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Error while creating SSH server", err)
	}
	wireSSHReload(l, ssh, c)
	var sshStart func()
	if c.GetBool("sshd.enabled", false) {
		sshStart, err = configSSH(l, ssh, c)
		if err != nil {
			return nil, util.ContextualizeIfNeeded("Error while configuring the sshd", err)
		}
	}

	statsStart, err := startStats(l, c, buildVersion, configTest)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to start stats emitter", err)
	}

	if configTest {
		cancel()
		return nil, nil
	}

	// Nothing above here may touch queue memory or issue hypercalls

	if hv == nil {
		return nil, util.NewContextualError("No platform to attach devices to", nil, nil)
	}

	registry := NewRegistry(l, hv, ac)
	registerStateGauges(metrics.DefaultRegistry, registry)

	var g errgroup.Group
	for _, dev := range devices {
		g.Go(func() error {
			if _, err := registry.Probe(dev); err != nil {
				util.LogWithContextIfNeeded(fmt.Sprintf("Failed to attach %s", dev.Handle()), err, l)
			}
			return nil
		})
	}
	_ = g.Wait()

	l.WithField("attached", len(registry.List())).WithField("devices", len(devices)).Info("Devices probed")

	ctrl := &Control{
		registry:     registry,
		l:            l,
		ctx:          ctx,
		cancel:       cancel,
		sshStart:     sshStart,
		statsStart:   statsStart,
		buildVersion: buildVersion,
	}
	attachCommands(l, ssh, ctrl)

	return ctrl, nil
}
