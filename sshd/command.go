package sshd

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/armon/go-radix"
)

// ErrUsage is returned by commands that were invoked with bad arguments. The
// command has already told the user what went wrong.
var ErrUsage = errors.New("bad usage")

// CommandFlags builds the flag set of a command and the struct its values are
// parsed into. -h and -help are reserved.
type CommandFlags func() (*flag.FlagSet, any)

// CommandCallback runs a line oriented command. fs is the struct returned by
// Command.Flags, a holds the arguments left after flag parsing. Messages for
// the user go to w, a returned error is logged and turns into a non zero exit
// status for exec requests.
type CommandCallback func(fs any, a []string, w StringWriter) error

// AttachCallback runs a command that owns the channel until it returns, such
// as a console bridged to a vterm. rw is the raw channel, nothing else reads
// from it while the callback runs. w writes complete lines to the same
// channel.
type AttachCallback func(fs any, a []string, rw io.ReadWriter, w StringWriter) error

// Command is one entry of the console. Exactly one of Callback and Attach
// should be set.
type Command struct {
	Name             string
	ShortDescription string
	Help             string
	Flags            CommandFlags
	Callback         CommandCallback
	Attach           AttachCallback
}

// parse runs the command's flag set over args and returns the parsed struct
// and the remaining arguments.
func (c *Command) parse(args []string, w StringWriter) (any, []string, error) {
	if c.Flags == nil {
		return nil, args, nil
	}

	fl, fs := c.Flags()
	if fl == nil {
		return fs, args, nil
	}

	// Parse failures print usage through w
	fl.SetOutput(w.GetWriter())
	if err := fl.Parse(args); err != nil {
		return nil, nil, err
	}
	return fs, fl.Args(), nil
}

func (c *Command) run(args []string, rw io.ReadWriter, w StringWriter) error {
	fs, args, err := c.parse(args, w)
	if err != nil {
		return err
	}

	switch {
	case c.Attach != nil:
		return c.Attach(fs, args, rw, newLineWriter(rw, "\r\n"))
	case c.Callback != nil:
		return c.Callback(fs, args, w)
	default:
		return fmt.Errorf("command %s has nothing to run", c.Name)
	}
}

func (c *Command) printHelp(w StringWriter) error {
	if err := w.WriteLine(c.Name + " - " + c.ShortDescription); err != nil {
		return err
	}

	if c.Help != "" {
		if err := w.WriteLine("  " + c.Help); err != nil {
			return err
		}
	}

	if c.Flags != nil {
		if fl, _ := c.Flags(); fl != nil {
			fl.SetOutput(w.GetWriter())
			fl.PrintDefaults()
		}
	}
	return nil
}

// commandSet is a prefix tree of commands, it backs lookup and tab completion.
type commandSet struct {
	tree *radix.Tree
}

func newCommandSet() *commandSet {
	return &commandSet{tree: radix.New()}
}

// clone returns a copy that can take session local commands without touching
// the server's set.
func (cs *commandSet) clone() *commandSet {
	return &commandSet{tree: radix.NewFromMap(cs.tree.ToMap())}
}

func (cs *commandSet) add(c *Command) {
	cs.tree.Insert(c.Name, c)
}

func (cs *commandSet) get(name string) *Command {
	v, ok := cs.tree.Get(name)
	if !ok {
		return nil
	}

	c, _ := v.(*Command)
	return c
}

// complete returns the sorted names of all commands starting with prefix.
func (cs *commandSet) complete(prefix string) []string {
	var names []string
	cs.tree.WalkPrefix(prefix, func(name string, _ any) bool {
		names = append(names, name)
		return false
	})
	return names
}

func (cs *commandSet) usage(w StringWriter) {
	if err := w.WriteLine("Available commands:"); err != nil {
		return
	}

	var lines []string
	cs.tree.Walk(func(_ string, v any) bool {
		if c, ok := v.(*Command); ok {
			lines = append(lines, c.Name+" - "+c.ShortDescription)
		}
		return false
	})

	sort.Strings(lines)
	_ = w.Write(strings.Join(lines, "\n") + "\n\n")
}

// help prints the command list, or the usage of the command named in a.
func (cs *commandSet) help(a []string, w StringWriter) error {
	if len(a) == 0 {
		cs.usage(w)
		return nil
	}

	c := cs.get(a[0])
	if c == nil {
		return w.WriteLine("Command not available " + a[0])
	}
	return c.printHelp(w)
}

func wantsHelp(args []string) bool {
	for _, a := range args {
		if a == "-h" || a == "-help" {
			return true
		}
	}
	return false
}
