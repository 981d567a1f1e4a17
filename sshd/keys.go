package sshd

import (
	"bytes"
	"fmt"
	"sync"

	"golang.org/x/crypto/ssh"
)

// keyring holds the user keys and certificate authorities a client may log in
// with. A config reload replaces its contents while clients authenticate.
type keyring struct {
	sync.RWMutex
	users map[string]map[string]struct{}
	cas   []ssh.PublicKey
}

func newKeyring() *keyring {
	return &keyring{users: make(map[string]map[string]struct{})}
}

func (k *keyring) clearUsers() {
	k.Lock()
	k.users = make(map[string]map[string]struct{})
	k.Unlock()
}

func (k *keyring) clearCAs() {
	k.Lock()
	k.cas = nil
	k.Unlock()
}

func (k *keyring) addUser(user string, pk ssh.PublicKey) {
	k.Lock()
	defer k.Unlock()
	keys, ok := k.users[user]
	if !ok {
		keys = make(map[string]struct{})
		k.users[user] = keys
	}
	keys[string(pk.Marshal())] = struct{}{}
}

func (k *keyring) addCA(pk ssh.PublicKey) {
	k.Lock()
	k.cas = append(k.cas, pk)
	k.Unlock()
}

func (k *keyring) isAuthority(auth ssh.PublicKey) bool {
	raw := auth.Marshal()
	k.RLock()
	defer k.RUnlock()
	for _, ca := range k.cas {
		if bytes.Equal(ca.Marshal(), raw) {
			return true
		}
	}
	return false
}

// checkUser accepts keys listed for the user. The fingerprint is kept in the
// permissions for the login log line.
func (k *keyring) checkUser(c ssh.ConnMetadata, pk ssh.PublicKey) (*ssh.Permissions, error) {
	fp := ssh.FingerprintSHA256(pk)

	k.RLock()
	keys, known := k.users[c.User()]
	_, trusted := keys[string(pk.Marshal())]
	k.RUnlock()

	switch {
	case !known:
		return nil, fmt.Errorf("unknown user %s", c.User())
	case !trusted:
		return nil, fmt.Errorf("unknown public key for %s (%s)", c.User(), fp)
	}

	return &ssh.Permissions{Extensions: map[string]string{"fp": fp, "user": c.User()}}, nil
}
