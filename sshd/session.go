package sshd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/anmitsu/go-shlex"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// Exit statuses reported to exec requests.
const (
	exitOK      uint32 = 0
	exitFailed  uint32 = 1
	exitUnknown uint32 = 127
)

type session struct {
	l         *logrus.Entry
	c         *ssh.ServerConn
	term      *term.Terminal
	commands  *commandSet
	exitChan  chan struct{}
	closeOnce sync.Once
}

func newSession(commands *commandSet, conn *ssh.ServerConn, chans <-chan ssh.NewChannel, l *logrus.Entry) *session {
	s := &session{
		commands: commands.clone(),
		l:        l,
		c:        conn,
		exitChan: make(chan struct{}),
	}

	s.commands.add(&Command{
		Name:             "logout",
		ShortDescription: "Ends the current session",
		Callback: func(any, []string, StringWriter) error {
			s.Close()
			return nil
		},
	})

	go s.handleChannels(chans)
	return s
}

func (s *session) handleChannels(chans <-chan ssh.NewChannel) {
	for nc := range chans {
		if nc.ChannelType() != "session" {
			s.l.WithField("sshChannelType", nc.ChannelType()).Error("unknown channel type")
			_ = nc.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := nc.Accept()
		if err != nil {
			s.l.WithError(err).Warn("could not accept channel")
			continue
		}

		go s.handleRequests(requests, channel)
	}

	// The client went away
	s.Close()
}

func (s *session) handleRequests(in <-chan *ssh.Request, channel ssh.Channel) {
	for req := range in {
		var err error
		switch req.Type {
		case "pty-req", "window-change":
			err = req.Reply(true, nil)

		case "shell":
			ok := s.term == nil
			if ok {
				s.term = s.createTerm(channel)
			}
			err = req.Reply(ok, nil)

		case "exec":
			s.exec(req, channel)
			return

		default:
			s.l.WithField("sshRequest", req.Type).Debug("Rejected unknown request")
			err = req.Reply(false, nil)
		}

		if err != nil {
			s.l.WithError(err).Info("Error handling ssh session requests")
			s.Close()
			return
		}
	}
}

// exec runs a single command line and closes the channel with its status.
func (s *session) exec(req *ssh.Request, channel ssh.Channel) {
	defer channel.Close()

	var payload struct{ Value string }
	if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
		_ = req.Reply(false, nil)
		return
	}
	_ = req.Reply(true, nil)

	status := s.dispatch(payload.Value, channel, newLineWriter(channel, "\n"))
	_, err := channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
	if err != nil {
		s.l.WithError(err).Debug("Failed to send exit status")
	}
}

func (s *session) createTerm(channel ssh.Channel) *term.Terminal {
	t := term.NewTerminal(channel, s.c.User()+"@vsm > ")
	t.AutoCompleteCallback = func(line string, pos int, key rune) (string, int, bool) {
		if key != '\t' {
			return "", 0, false
		}

		names := s.commands.complete(line)
		if len(names) == 1 {
			return names[0] + " ", len(names[0]) + 1, true
		}
		_, _ = t.Write([]byte(strings.Join(names, "\n") + "\n\n"))
		return "", 0, false
	}

	go s.handleInput(channel, t)
	return t
}

// handleInput reads command lines until the client goes away. While an
// attached command runs this goroutine is inside dispatch, so the command is
// the channel's only reader.
func (s *session) handleInput(channel ssh.Channel, t *term.Terminal) {
	defer s.Close()
	w := newLineWriter(t, "\n")
	for {
		line, err := t.ReadLine()
		if err != nil {
			return
		}

		s.dispatch(line, channel, w)
	}
}

// dispatch runs one command line and returns the exit status for it.
func (s *session) dispatch(line string, rw io.ReadWriter, w StringWriter) uint32 {
	args, err := shlex.Split(line, true)
	if err != nil {
		_ = w.WriteLine(fmt.Sprintf("could not parse: %s", err))
		return exitFailed
	}

	if len(args) == 0 {
		s.commands.usage(w)
		return exitOK
	}

	c := s.commands.get(args[0])
	if c == nil {
		_ = w.WriteLine(fmt.Sprintf("did not understand: %s", line))
		s.commands.usage(w)
		return exitUnknown
	}

	if wantsHelp(args[1:]) {
		if err := c.printHelp(w); err != nil {
			return exitFailed
		}
		return exitOK
	}

	if err := c.run(args[1:], rw, w); err != nil {
		s.l.WithError(err).WithField("command", c.Name).Debug("Command failed")
		return exitFailed
	}
	return exitOK
}

// Close ends the ssh connection, it is safe to call more than once.
func (s *session) Close() {
	s.closeOnce.Do(func() {
		s.c.Close()
		close(s.exitChan)
	})
}
