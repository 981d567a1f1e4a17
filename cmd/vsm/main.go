package main

import (
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/bwarrum-ibm/ibmvsm"
	"github.com/bwarrum-ibm/ibmvsm/config"
	"github.com/bwarrum-ibm/ibmvsm/platform"
	"github.com/bwarrum-ibm/ibmvsm/platform/sim"
	"github.com/bwarrum-ibm/ibmvsm/util"
	"github.com/sirupsen/logrus"
)

// Build is stamped with -ldflags "-X main.Build=1.2.3", otherwise it comes
// from the module version.
var Build string

func init() {
	if Build != "" {
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		Build = strings.TrimPrefix(info.Main.Version, "v")
	}
}

type options struct {
	configPath  string
	configTest  bool
	listDevices bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "Config file, or a directory of yaml files merged in lexical order")
	flag.BoolVar(&o.configTest, "test", false, "Check the config, print the merged result and exit non zero when it is faulty")
	flag.BoolVar(&o.listDevices, "list-devices", false, "Print the devices the platform offers and exit")
	printVersion := flag.Bool("version", false, "Print the build and protocol version")
	flag.Parse()

	if *printVersion {
		fmt.Printf("Version: %s\nProtocol: %s\n", Build, vsm.Version)
		return
	}

	if o.configPath == "" {
		fmt.Fprintln(os.Stderr, "-config flag must be set")
		flag.Usage()
		os.Exit(1)
	}

	l := logrus.New()
	l.Out = os.Stdout

	if err := run(l, o); err != nil {
		util.LogWithContextIfNeeded("Exiting", err, l)
		os.Exit(1)
	}
}

func run(l *logrus.Logger, o options) error {
	c := config.NewC(l)
	if err := c.Load(o.configPath); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	hv, devices, err := sim.NewFromConfig(l, c)
	if err != nil {
		return util.ContextualizeIfNeeded("Failed to set up the platform", err)
	}

	if o.listDevices {
		printDevices(devices)
		return nil
	}

	ctrl, err := vsm.Main(c, o.configTest, Build, l, hv, devices)
	if err != nil {
		return err
	}
	if o.configTest {
		return nil
	}

	ctrl.Start()
	c.CatchHUP(ctrl.Context())
	sdNotify(l, sdNotifyReady)
	ctrl.ShutdownBlock()
	sdNotify(l, sdNotifyStopping)
	return nil
}

func printDevices(devices []platform.Device) {
	for _, d := range devices {
		fmt.Printf("%s\tunit %#x\n", d.Handle(), d.UnitAddress())
	}
}
