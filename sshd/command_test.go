package sshd

import (
	"bytes"
	"errors"
	"flag"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bwarrum-ibm/ibmvsm/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type testFlags struct {
	Json bool
}

func testCommands() *commandSet {
	cs := newCommandSet()
	cs.add(&Command{
		Name:             "list-adapters",
		ShortDescription: "lists adapters",
		Help:             "Usage: list-adapters [-json]",
		Flags: func() (*flag.FlagSet, any) {
			fl := flag.NewFlagSet("", flag.ContinueOnError)
			s := testFlags{}
			fl.BoolVar(&s.Json, "json", false, "outputs as json")
			return fl, &s
		},
		Callback: func(fs any, a []string, w StringWriter) error {
			if fs.(*testFlags).Json {
				return w.WriteLine(`["vsm0"]`)
			}
			return w.WriteLine("vsm0 " + strings.Join(a, ","))
		},
	})
	cs.add(&Command{
		Name:             "list-vterms",
		ShortDescription: "lists vterms",
		Callback: func(fs any, a []string, w StringWriter) error {
			return w.WriteLine("0: free")
		},
	})
	cs.add(&Command{
		Name:             "fail",
		ShortDescription: "always fails",
		Callback: func(fs any, a []string, w StringWriter) error {
			return errors.New("nope")
		},
	})
	cs.add(&Command{
		Name:             "upper",
		ShortDescription: "reads three bytes and shouts them back",
		Attach: func(fs any, a []string, rw io.ReadWriter, w StringWriter) error {
			b := make([]byte, 3)
			if _, err := io.ReadFull(rw, b); err != nil {
				return err
			}
			return w.WriteLine(strings.ToUpper(string(b)))
		},
	})
	return cs
}

func TestCommandSet(t *testing.T) {
	cs := testCommands()

	assert.Equal(t, []string{"list-adapters", "list-vterms"}, cs.complete("list"))
	assert.Equal(t, []string{"fail"}, cs.complete("f"))
	assert.Empty(t, cs.complete("x"))
	assert.Nil(t, cs.get("list"))
	assert.Equal(t, "fail", cs.get("fail").Name)

	// A clone takes new commands without changing the original
	c := cs.clone()
	c.add(&Command{Name: "logout"})
	assert.NotNil(t, c.get("logout"))
	assert.Nil(t, cs.get("logout"))

	out := &bytes.Buffer{}
	cs.usage(newLineWriter(out, "\n"))
	assert.Equal(t, "Available commands:\n"+
		"fail - always fails\n"+
		"list-adapters - lists adapters\n"+
		"list-vterms - lists vterms\n"+
		"upper - reads three bytes and shouts them back\n\n", out.String())

	out.Reset()
	require.NoError(t, cs.help([]string{"list-adapters"}, newLineWriter(out, "\n")))
	assert.Equal(t, "list-adapters - lists adapters\n"+
		"  Usage: list-adapters [-json]\n"+
		"  -json\n    \toutputs as json\n", out.String())

	out.Reset()
	require.NoError(t, cs.help([]string{"bogus"}, newLineWriter(out, "\n")))
	assert.Equal(t, "Command not available bogus\n", out.String())
}

func TestSession_Dispatch(t *testing.T) {
	s := &session{l: test.NewLogger().WithField("subsystem", "sshd.session"), commands: testCommands()}
	out := &bytes.Buffer{}
	w := newLineWriter(out, "\n")

	assert.Equal(t, exitOK, s.dispatch("list-adapters a b", nil, w))
	assert.Equal(t, "vsm0 a,b\n", out.String())

	out.Reset()
	assert.Equal(t, exitOK, s.dispatch("list-adapters -json", nil, w))
	assert.Equal(t, "[\"vsm0\"]\n", out.String())

	out.Reset()
	assert.Equal(t, exitOK, s.dispatch("list-vterms -h", nil, w))
	assert.Equal(t, "list-vterms - lists vterms\n", out.String())

	out.Reset()
	assert.Equal(t, exitFailed, s.dispatch("fail", nil, w))
	assert.Empty(t, out.String())

	out.Reset()
	assert.Equal(t, exitFailed, s.dispatch("list-adapters -bogus", nil, w))
	assert.Contains(t, out.String(), "flag provided but not defined: -bogus")

	out.Reset()
	assert.Equal(t, exitUnknown, s.dispatch("frobnicate", nil, w))
	assert.True(t, strings.HasPrefix(out.String(), "did not understand: frobnicate\nAvailable commands:\n"))

	// Attached commands get the raw channel and write lines ending in \r\n
	rw := &struct {
		io.Reader
		io.Writer
	}{strings.NewReader("abc"), &bytes.Buffer{}}
	assert.Equal(t, exitOK, s.dispatch("upper", rw, w))
	assert.Equal(t, "ABC\r\n", rw.Writer.(*bytes.Buffer).String())
}

// newTestClient logs a client into a session of server over loopback.
func newTestClient(t *testing.T, server *SSHServer, signer ssh.Signer) *ssh.Client {
	t.Helper()
	serverConn, clientConn := newTCPConnPair(t)

	type clientResult struct {
		c   *ssh.Client
		err error
	}
	done := make(chan clientResult, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(clientConn, "", newClientConfig("testuser", signer))
		if err != nil {
			done <- clientResult{nil, err}
			return
		}
		done <- clientResult{ssh.NewClient(c, chans, reqs), nil}
	}()

	conn, chans, reqs, err := server.handshakeWithTimeout(serverConn, 5*time.Second)
	require.NoError(t, err)
	go ssh.DiscardRequests(reqs)
	sess := newSession(server.commands, conn, chans, server.l)

	r := <-done
	require.NoError(t, r.err)
	t.Cleanup(func() {
		r.c.Close()
		sess.Close()
	})
	return r.c
}

func TestSession_Exec(t *testing.T) {
	server, signer := newTestSSHServer(t, true)
	for _, c := range testCommands().tree.ToMap() {
		server.RegisterCommand(c.(*Command))
	}
	client := newTestClient(t, server, signer)

	run := func(line string, stdin io.Reader) (string, error) {
		sess, err := client.NewSession()
		require.NoError(t, err)
		defer sess.Close()
		sess.Stdin = stdin
		out, err := sess.Output(line)
		return string(out), err
	}

	out, err := run("list-adapters x", nil)
	require.NoError(t, err)
	assert.Equal(t, "vsm0 x\n", out)

	out, err = run("upper", strings.NewReader("vsm"))
	require.NoError(t, err)
	assert.Equal(t, "VSM\r\n", out)

	_, err = run("fail", nil)
	var exitErr *ssh.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitStatus())

	out, err = run("frobnicate", nil)
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 127, exitErr.ExitStatus())
	assert.Contains(t, out, "help - prints available commands")
}
