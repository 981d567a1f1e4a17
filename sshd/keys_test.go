package sshd

import (
	"testing"
	"time"

	"github.com/bwarrum-ibm/ibmvsm/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type connMeta struct {
	ssh.ConnMetadata
	user string
}

func (c connMeta) User() string { return c.user }

func TestKeyring(t *testing.T) {
	k := newKeyring()
	alice, _ := newSigner(t)
	bob, _ := newSigner(t)

	k.addUser("alice", alice.PublicKey())

	p, err := k.checkUser(connMeta{user: "alice"}, alice.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Extensions["user"])
	assert.Equal(t, ssh.FingerprintSHA256(alice.PublicKey()), p.Extensions["fp"])

	_, err = k.checkUser(connMeta{user: "alice"}, bob.PublicKey())
	assert.ErrorContains(t, err, "unknown public key for alice")

	_, err = k.checkUser(connMeta{user: "bob"}, bob.PublicKey())
	assert.EqualError(t, err, "unknown user bob")

	assert.False(t, k.isAuthority(bob.PublicKey()))
	k.addCA(bob.PublicKey())
	assert.True(t, k.isAuthority(bob.PublicKey()))

	k.clearCAs()
	k.clearUsers()
	assert.False(t, k.isAuthority(bob.PublicKey()))
	_, err = k.checkUser(connMeta{user: "alice"}, alice.PublicKey())
	assert.Error(t, err)
}

func TestSSHServer_RunStop(t *testing.T) {
	server, err := NewSSHServer(test.NewLogger().WithField("subsystem", "sshd"))
	require.NoError(t, err)

	// Stopping a server that never ran is fine
	server.Stop()

	done := make(chan error, 1)
	go func() { done <- server.Run("127.0.0.1:0") }()

	require.Eventually(t, func() bool {
		server.listenerLock.Lock()
		defer server.listenerLock.Unlock()
		return server.listener != nil
	}, time.Second, time.Millisecond)

	server.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
