package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/bwarrum-ibm/ibmvsm"
)

// Build is stamped with -ldflags "-X main.Build=1.2.3".
var Build string

func main() {
	action := flag.String("service", "run", "Service action: run, install, uninstall, start, stop or restart")
	configPath := flag.String("config", "", "Config file or directory, defaults to config.yaml next to the binary")
	configTest := flag.Bool("test", false, "Check the config, print the merged result and exit non zero when it is faulty")
	printVersion := flag.Bool("version", false, "Print the build and protocol version")
	flag.Parse()

	if *printVersion {
		fmt.Printf("Version: %s\nProtocol: %s\n", Build, vsm.Version)
		return
	}

	if err := doService(*action, *configPath, *configTest); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
