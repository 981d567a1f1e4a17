package vsm

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"reflect"
	"strconv"
	"syscall"
	"time"

	"github.com/bwarrum-ibm/ibmvsm/config"
	"github.com/bwarrum-ibm/ibmvsm/platform"
	"github.com/bwarrum-ibm/ibmvsm/sshd"
	"github.com/sirupsen/logrus"
)

type sshListAdaptersFlags struct {
	Json   bool
	Pretty bool
}

type sshListVTermsFlags struct {
	Json bool
}

type sshConsoleFlags struct {
	Poll time.Duration
}

// wireSSHReload restarts or stops the sshd whenever the config is reloaded.
func wireSSHReload(l *logrus.Logger, ssh *sshd.SSHServer, c *config.C) {
	c.RegisterReloadCallback(func(c *config.C) {
		ssh.Stop()
		if !c.GetBool("sshd.enabled", false) {
			return
		}

		run, err := configSSH(l, ssh, c)
		if err != nil {
			l.WithError(err).Error("Failed to reconfigure the sshd")
			return
		}
		go run()
	})
}

// configSSH applies the sshd section to ssh and returns the func that serves
// it. Keys and CAs from an earlier call are dropped first.
func configSSH(l *logrus.Logger, ssh *sshd.SSHServer, c *config.C) (func(), error) {
	listen := c.GetString("sshd.listen", "")
	if listen == "" {
		return nil, errors.New("sshd.listen must be provided")
	}

	_, port, err := net.SplitHostPort(listen)
	if err != nil {
		return nil, fmt.Errorf("sshd.listen is not a host:port: %w", err)
	}
	if port == "22" {
		return nil, errors.New("sshd.listen can not use port 22")
	}

	hostKeyFile := c.GetString("sshd.host_key", "")
	if hostKeyFile == "" {
		return nil, errors.New("sshd.host_key must be provided")
	}

	hostKey, err := os.ReadFile(hostKeyFile)
	if err != nil {
		return nil, fmt.Errorf("error while loading sshd.host_key file: %w", err)
	}
	if err := ssh.SetHostKey(hostKey); err != nil {
		return nil, fmt.Errorf("error while adding sshd.host_key: %w", err)
	}

	ssh.ClearTrustedCAs()
	for _, ca := range c.GetStringSlice("sshd.trusted_cas", nil) {
		if err := ssh.AddTrustedCA(ca); err != nil {
			l.WithError(err).WithField("sshCA", ca).Warn("Failed to trust ssh CA")
		}
	}

	users, err := c.GetMapSlice("sshd.authorized_users")
	if err != nil {
		return nil, err
	}

	ssh.ClearAuthorizedKeys()
	if n := authorizeUsers(l, ssh, users); n == 0 {
		l.Info("No ssh keys authorized")
	}

	return func() {
		if err := ssh.Run(listen); err != nil {
			l.WithError(err).Warn("Failed to run the SSH server")
		}
	}, nil
}

// authorizeUsers adds the keys of every {user, keys} entry, keys being one
// authorized_keys line or a list of them. Bad entries are logged and skipped.
// It returns how many keys were added.
func authorizeUsers(l *logrus.Logger, ssh *sshd.SSHServer, users []map[string]any) int {
	added := 0
	for i, u := range users {
		ul := l.WithField("authorizedUser", i)
		user, ok := u["user"].(string)
		if !ok || user == "" {
			ul.Warn("Authorized user is missing the user field")
			continue
		}
		ul = ul.WithField("user", user)

		var keys []any
		switch v := u["keys"].(type) {
		case string:
			keys = []any{v}
		case []any:
			keys = v
		default:
			ul.Warn("Authorized user is missing the keys field or was not understood")
			continue
		}

		for _, k := range keys {
			ks, ok := k.(string)
			if !ok {
				ul.WithField("sshKey", k).Warn("Did not understand ssh key")
				continue
			}
			if err := ssh.AddAuthorizedKey(user, ks); err != nil {
				ul.WithError(err).Warn("Failed to authorize key")
				continue
			}
			added++
		}
	}
	return added
}

func attachCommands(l *logrus.Logger, ssh *sshd.SSHServer, ctrl *Control) {
	ssh.RegisterCommand(&sshd.Command{
		Name:             "list-adapters",
		ShortDescription: "List all attached adapters and their handshake state",
		Flags: func() (*flag.FlagSet, any) {
			fl := flag.NewFlagSet("", flag.ContinueOnError)
			s := sshListAdaptersFlags{}
			fl.BoolVar(&s.Json, "json", false, "outputs as json with more information")
			fl.BoolVar(&s.Pretty, "pretty", false, "pretty prints json, assumes -json")
			return fl, &s
		},
		Callback: func(fs any, a []string, w sshd.StringWriter) error {
			return sshListAdapters(ctrl, fs, w)
		},
	})

	ssh.RegisterCommand(&sshd.Command{
		Name:             "list-vterms",
		ShortDescription: "List the vterm slots of an adapter",
		Help:             "Usage: list-vterms [-json] <device>",
		Flags: func() (*flag.FlagSet, any) {
			fl := flag.NewFlagSet("", flag.ContinueOnError)
			s := sshListVTermsFlags{}
			fl.BoolVar(&s.Json, "json", false, "outputs as json")
			return fl, &s
		},
		Callback: func(fs any, a []string, w sshd.StringWriter) error {
			return sshListVTerms(ctrl, fs, a, w)
		},
	})

	ssh.RegisterCommand(&sshd.Command{
		Name:             "console",
		ShortDescription: "Attaches to a vterm, type ~. at the start of a line to detach",
		Help:             "Usage: console [-poll duration] <device> <token in hex>",
		Flags: func() (*flag.FlagSet, any) {
			fl := flag.NewFlagSet("", flag.ContinueOnError)
			s := sshConsoleFlags{}
			fl.DurationVar(&s.Poll, "poll", defaultConsolePoll, "how often to check the vterm for output")
			return fl, &s
		},
		Attach: func(fs any, a []string, rw io.ReadWriter, w sshd.StringWriter) error {
			return sshConsole(ctrl, fs, a, rw, w)
		},
	})

	ssh.RegisterCommand(&sshd.Command{
		Name:             "reset-adapter",
		ShortDescription: "Tears down and registers the queue of an adapter again",
		Help:             "Usage: reset-adapter <device>",
		Callback: func(fs any, a []string, w sshd.StringWriter) error {
			return sshResetAdapter(ctrl, a, w)
		},
	})

	ssh.RegisterCommand(&sshd.Command{
		Name:             "reload",
		ShortDescription: "Reloads configuration from disk, same as sending HUP to the process",
		Callback: func(fs any, a []string, w sshd.StringWriter) error {
			return sshReload(w)
		},
	})

	ssh.RegisterCommand(&sshd.Command{
		Name:             "log-level",
		ShortDescription: "Gets or sets the current log level",
		Callback: func(fs any, a []string, w sshd.StringWriter) error {
			return sshLogLevel(l, fs, a, w)
		},
	})

	ssh.RegisterCommand(&sshd.Command{
		Name:             "log-format",
		ShortDescription: "Gets or sets the current log format",
		Callback: func(fs any, a []string, w sshd.StringWriter) error {
			return sshLogFormat(l, fs, a, w)
		},
	})

	ssh.RegisterCommand(&sshd.Command{
		Name:             "version",
		ShortDescription: "Prints the currently running version of vsm",
		Callback: func(fs any, a []string, w sshd.StringWriter) error {
			return sshVersion(ctrl, fs, a, w)
		},
	})
}

func sshListAdapters(ctrl *Control, a any, w sshd.StringWriter) error {
	fs, ok := a.(*sshListAdaptersFlags)
	if !ok {
		return nil
	}

	adapters := ctrl.ListAdapters()
	if fs.Json || fs.Pretty {
		js := json.NewEncoder(w.GetWriter())
		if fs.Pretty {
			js.SetIndent("", "    ")
		}

		return js.Encode(adapters)
	}

	for _, v := range adapters {
		err := w.WriteLine(fmt.Sprintf("%s: unit=%#x liobn=%#x riobn=%#x state=%s", v.Device, v.UnitAddress, v.LIOBN, v.RIOBN, v.State))
		if err != nil {
			return err
		}
	}

	return nil
}

func sshListVTerms(ctrl *Control, a any, args []string, w sshd.StringWriter) error {
	fs, ok := a.(*sshListVTermsFlags)
	if !ok {
		return nil
	}

	if len(args) == 0 {
		return w.WriteLine("No device was provided")
	}

	ai := ctrl.GetAdapter(platform.DeviceHandle(args[0]))
	if ai == nil {
		return w.WriteLine(fmt.Sprintf("Could not find adapter: %s", args[0]))
	}

	if fs.Json {
		return json.NewEncoder(w.GetWriter()).Encode(ai.VTerms)
	}

	for _, v := range ai.VTerms {
		line := fmt.Sprintf("%d: %s", v.Index, v.State)
		if v.State != VTermFree {
			line += " token=" + strconv.FormatUint(v.Token, 16)
		}
		if v.Attached {
			line += " attached"
		}
		if err := w.WriteLine(line); err != nil {
			return err
		}
	}
	return nil
}

func sshConsole(ctrl *Control, a any, args []string, rw io.ReadWriter, w sshd.StringWriter) error {
	fs, ok := a.(*sshConsoleFlags)
	if !ok {
		return nil
	}

	if len(args) != 2 {
		_ = w.WriteLine("Usage: console [-poll duration] <device> <token in hex>")
		return sshd.ErrUsage
	}

	if fs.Poll <= 0 {
		fs.Poll = defaultConsolePoll
	}

	token, err := strconv.ParseUint(args[1], 16, 64)
	if err != nil {
		_ = w.WriteLine(fmt.Sprintf("Could not parse token %s: %s", args[1], err))
		return sshd.ErrUsage
	}

	s, err := ctrl.OpenSession(platform.DeviceHandle(args[0]), token)
	if err != nil {
		_ = w.WriteLine(fmt.Sprintf("Could not attach to %s token %x: %s", args[0], token, err))
		return err
	}
	defer s.Close()

	if err := openConsole(ctrl.Context(), s, fs.Poll); err != nil {
		_ = w.WriteLine(fmt.Sprintf("Could not open %s token %x: %s", args[0], token, err))
		return err
	}

	if err := w.WriteLine(fmt.Sprintf("Attached to %s token %x, type ~. to detach", args[0], token)); err != nil {
		return err
	}

	if err := bridgeConsole(ctrl.Context(), s, rw, fs.Poll); err != nil {
		_ = w.WriteLine(fmt.Sprintf("Console closed: %s", err))
		return err
	}
	return w.WriteLine("Detached")
}

func sshResetAdapter(ctrl *Control, a []string, w sshd.StringWriter) error {
	if len(a) == 0 {
		return w.WriteLine("No device was provided")
	}

	if err := ctrl.ResetAdapter(platform.DeviceHandle(a[0])); err != nil {
		return w.WriteLine(fmt.Sprintf("Could not reset %s: %s", a[0], err))
	}
	return w.WriteLine("Reset scheduled")
}

func sshVersion(ctrl *Control, fs any, a []string, w sshd.StringWriter) error {
	return w.WriteLine(fmt.Sprintf("%s (protocol %s)", ctrl.buildVersion, Version))
}

func sshLogLevel(l *logrus.Logger, fs any, a []string, w sshd.StringWriter) error {
	if len(a) == 0 {
		return w.WriteLine(fmt.Sprintf("Log level is: %s", l.Level))
	}

	level, err := logrus.ParseLevel(a[0])
	if err != nil {
		return w.WriteLine(fmt.Sprintf("Unknown log level %s. Possible log levels: %s", a, logrus.AllLevels))
	}

	l.SetLevel(level)
	return w.WriteLine(fmt.Sprintf("Log level is: %s", l.Level))
}

func sshLogFormat(l *logrus.Logger, fs any, a []string, w sshd.StringWriter) error {
	if len(a) == 0 {
		return w.WriteLine(fmt.Sprintf("Log format is: %s", reflect.TypeOf(l.Formatter)))
	}

	f, err := newLogFormatter(a[0], logTimestamps{format: time.RFC3339})
	if err != nil {
		return err
	}
	l.SetFormatter(f)

	return w.WriteLine(fmt.Sprintf("Log format is: %s", reflect.TypeOf(l.Formatter)))
}

func sshReload(w sshd.StringWriter) error {
	if err := w.WriteLine("Reloading config"); err != nil {
		return err
	}
	// CatchHUP picks the signal up and reloads from the original path
	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		return w.WriteLine(err.Error())
	}
	err = p.Signal(syscall.SIGHUP)
	if err != nil {
		return w.WriteLine(err.Error())
	}
	return w.WriteLine("HUP sent")
}
