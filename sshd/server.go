package sshd

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

const handshakeTimeout = 10 * time.Second

// SSHServer is the debug console. Every logged in user gets a session running
// the registered commands.
type SSHServer struct {
	config *ssh.ServerConfig
	l      *logrus.Entry
	keys   *keyring

	commands *commandSet

	listenerLock sync.Mutex
	listener     net.Listener

	sessionsLock sync.Mutex
	sessions     map[*session]struct{}
}

// NewSSHServer returns a server that knows the help command and no keys.
func NewSSHServer(l *logrus.Entry) (*SSHServer, error) {
	s := &SSHServer{
		l:        l,
		keys:     newKeyring(),
		commands: newCommandSet(),
		sessions: make(map[*session]struct{}),
	}

	cc := &ssh.CertChecker{
		IsUserAuthority: s.keys.isAuthority,
		UserKeyFallback: s.keys.checkUser,
	}
	s.config = &ssh.ServerConfig{
		PublicKeyCallback: cc.Authenticate,
		ServerVersion:     "SSH-2.0-vsm",
	}

	s.RegisterCommand(&Command{
		Name:             "help",
		ShortDescription: "prints available commands or help <command> for specific usage info",
		Callback: func(_ any, args []string, w StringWriter) error {
			return s.commands.help(args, w)
		},
	})

	return s, nil
}

// SetHostKey adds a PEM encoded private host key.
func (s *SSHServer) SetHostKey(hostPrivateKey []byte) error {
	private, err := ssh.ParsePrivateKey(hostPrivateKey)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	s.config.AddHostKey(private)
	return nil
}

func (s *SSHServer) ClearTrustedCAs() {
	s.keys.clearCAs()
}

func (s *SSHServer) ClearAuthorizedKeys() {
	s.keys.clearUsers()
}

// AddTrustedCA trusts user certificates signed by the authorized_keys line
// pubKey.
func (s *SSHServer) AddTrustedCA(pubKey string) error {
	pk, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pubKey))
	if err != nil {
		return err
	}

	s.keys.addCA(pk)
	s.l.WithField("sshKey", ssh.FingerprintSHA256(pk)).Info("Trusted CA key")
	return nil
}

// AddAuthorizedKey lets user log in with the authorized_keys line pubKey.
func (s *SSHServer) AddAuthorizedKey(user, pubKey string) error {
	pk, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pubKey))
	if err != nil {
		return err
	}

	s.keys.addUser(user, pk)
	s.l.WithField("sshKey", ssh.FingerprintSHA256(pk)).WithField("sshUser", user).Info("Authorized ssh key")
	return nil
}

// RegisterCommand adds a command to every future session. Sessions start with
// help and logout.
func (s *SSHServer) RegisterCommand(c *Command) {
	s.commands.add(c)
}

// Run listens on addr and serves clients until Stop is called. Open sessions
// are closed before it returns.
func (s *SSHServer) Run(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.listenerLock.Lock()
	s.listener = ln
	s.listenerLock.Unlock()

	s.l.WithField("sshListener", addr).Info("SSH server is listening")
	s.accept(ln)
	s.closeSessions()
	s.l.Info("SSH server stopped listening")
	return nil
}

func (s *SSHServer) accept(ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.l.WithError(err).Warn("Error in listener, shutting down")
			}
			return
		}

		go s.serve(c)
	}
}

func (s *SSHServer) serve(c net.Conn) {
	conn, chans, reqs, err := s.handshakeWithTimeout(c, handshakeTimeout)
	if err != nil {
		s.l.WithError(err).WithField("remoteAddress", c.RemoteAddr()).Warn("failed to handshake")
		return
	}

	l := s.l.WithField("sshUser", conn.User())
	l.WithField("remoteAddress", c.RemoteAddr()).
		WithField("sshFingerprint", conn.Permissions.Extensions["fp"]).
		Info("ssh user logged in")

	go ssh.DiscardRequests(reqs)
	sess := newSession(s.commands, conn, chans, l.WithField("subsystem", "sshd.session"))

	s.sessionsLock.Lock()
	s.sessions[sess] = struct{}{}
	s.sessionsLock.Unlock()

	<-sess.exitChan
	l.Debug("ssh session ended")

	s.sessionsLock.Lock()
	delete(s.sessions, sess)
	s.sessionsLock.Unlock()
}

// handshakeWithTimeout runs the ssh handshake on c. A client that does not
// finish within timeout gets its connection closed.
func (s *SSHServer) handshakeWithTimeout(c net.Conn, timeout time.Duration) (*ssh.ServerConn, <-chan ssh.NewChannel, <-chan *ssh.Request, error) {
	type result struct {
		conn  *ssh.ServerConn
		chans <-chan ssh.NewChannel
		reqs  <-chan *ssh.Request
		err   error
	}

	done := make(chan result, 1)
	go func() {
		conn, chans, reqs, err := ssh.NewServerConn(c, s.config)
		done <- result{conn, chans, reqs, err}
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			if r.conn != nil {
				r.conn.Close()
			}
			return nil, nil, nil, r.err
		}
		return r.conn, r.chans, r.reqs, nil

	case <-t.C:
		c.Close()
		// Let the handshake goroutine finish against the closed conn
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, nil, nil, errors.New("handshake timeout")
	}
}

// Stop closes the listener, which makes Run close every session and return.
func (s *SSHServer) Stop() {
	s.listenerLock.Lock()
	ln := s.listener
	s.listener = nil
	s.listenerLock.Unlock()

	if ln == nil {
		return
	}
	if err := ln.Close(); err != nil {
		s.l.WithError(err).Warn("Failed to close the sshd listener")
	}
}

func (s *SSHServer) closeSessions() {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	for sess := range s.sessions {
		sess.Close()
	}
}
