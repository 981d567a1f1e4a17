package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"

	"github.com/bwarrum-ibm/ibmvsm"
	"github.com/bwarrum-ibm/ibmvsm/config"
	"github.com/bwarrum-ibm/ibmvsm/platform/sim"
	"github.com/kardianos/service"
	"github.com/sirupsen/logrus"
)

// program adapts the daemon to the service manager. Start must return
// promptly, the adapters keep running in their own goroutines.
type program struct {
	configPath string
	configTest bool
	svcLog     service.Logger
	control    *vsm.Control
}

func (p *program) Start(service.Service) error {
	p.info("vsm service starting")

	l := logrus.New()
	l.Out = os.Stdout

	c := config.NewC(l)
	if err := c.Load(p.configPath); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	hv, devices, err := sim.NewFromConfig(l, c)
	if err != nil {
		return err
	}

	ctrl, err := vsm.Main(c, p.configTest, Build, l, hv, devices)
	if err != nil || ctrl == nil {
		return err
	}

	p.control = ctrl
	ctrl.Start()
	c.CatchHUP(ctrl.Context())
	return nil
}

func (p *program) Stop(service.Service) error {
	p.info("vsm service stopping")
	if p.control != nil {
		p.control.Stop()
	}
	return nil
}

func (p *program) info(msg string) {
	if p.svcLog != nil {
		_ = p.svcLog.Info(msg)
	}
}

func defaultConfigPath() (string, error) {
	ex, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(ex), "config.yaml"), nil
}

func doService(action, configPath string, configTest bool) error {
	if configPath == "" {
		var err error
		if configPath, err = defaultConfigPath(); err != nil {
			return err
		}
	}

	if action != "run" && !slices.Contains(service.ControlAction[:], action) {
		return fmt.Errorf("unknown service action %q, valid actions: run %q", action, service.ControlAction)
	}

	prg := &program{configPath: configPath, configTest: configTest}
	s, err := service.New(prg, &service.Config{
		Name:        "vsm",
		DisplayName: "VSM Console Transport",
		Description: "Hypervisor console transport daemon for vterm sessions",
		Arguments:   []string{"-service", "run", "-config", configPath},
	})
	if err != nil {
		return err
	}

	errs := make(chan error, 5)
	if prg.svcLog, err = s.Logger(errs); err != nil {
		return err
	}
	go func() {
		for err := range errs {
			if err != nil {
				log.Print(err)
			}
		}
	}()

	if action == "run" {
		return s.Run()
	}
	return service.Control(s, action)
}
