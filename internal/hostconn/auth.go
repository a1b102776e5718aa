package hostconn

import (
	"fmt"
	"net"
	"os"

	"github.com/gluk-w/muxdeck/internal/config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// credSpec is the auth-relevant subset shared by hosts and jump hosts.
type credSpec struct {
	password         string
	passwordEnvVar   string
	privateKeyPath   string
	passphrase       string
	passphraseEnvVar string
	useAgent         bool
}

func hostCreds(h *config.HostConfig) credSpec {
	return credSpec{
		password:         h.Password,
		passwordEnvVar:   h.PasswordEnvVar,
		privateKeyPath:   h.PrivateKeyPath,
		passphrase:       h.Passphrase,
		passphraseEnvVar: h.PassphraseEnvVar,
		useAgent:         h.UseAgent,
	}
}

func jumpCreds(j *config.JumpHostConfig) credSpec {
	return credSpec{
		password:         j.Password,
		passwordEnvVar:   j.PasswordEnvVar,
		privateKeyPath:   j.PrivateKeyPath,
		passphrase:       j.Passphrase,
		passphraseEnvVar: j.PassphraseEnvVar,
		useAgent:         j.UseAgent,
	}
}

// resolvePassword returns the effective password: the literal value, or the
// env-var-referenced one when set.
func (c credSpec) resolvePassword() string {
	if c.password != "" {
		return c.password
	}
	if c.passwordEnvVar != "" {
		return os.Getenv(c.passwordEnvVar)
	}
	return ""
}

func (c credSpec) resolvePassphrase() string {
	if c.passphraseEnvVar != "" {
		if v := os.Getenv(c.passphraseEnvVar); v != "" {
			return v
		}
	}
	return c.passphrase
}

// assembleAuth builds the ssh.AuthMethod list in effective priority order:
// password first, then private key, then agent. Every available method is
// included; the SSH handshake tries them in order.
func assembleAuth(c credSpec) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if pw := c.resolvePassword(); pw != "" {
		methods = append(methods, ssh.Password(pw))
	}

	if c.privateKeyPath != "" {
		if key, err := loadPrivateKey(c.privateKeyPath, c.resolvePassphrase()); err == nil {
			methods = append(methods, ssh.PublicKeys(key))
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load key %s: %w", c.privateKeyPath, err)
		}
	}

	if c.useAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err == nil {
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			}
		}
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: no usable auth method", ErrAuthFailed)
	}
	return methods, nil
}

func loadPrivateKey(path, passphrase string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(data)
}

// hasPasswordAuth reports whether password auth is effective for the host or
// any hop. Library-based tunneling cannot service interactive password
// prompts at nested hops, so this drives the native-ssh fallback decision.
func hasPasswordAuth(h *config.HostConfig) bool {
	if hostCreds(h).resolvePassword() != "" {
		return true
	}
	if h.JumpHost != nil && jumpCreds(h.JumpHost).resolvePassword() != "" {
		return true
	}
	return false
}

// usesNativeSSH decides whether a host must go through the native ssh binary
// rather than library-based tunneling.
func usesNativeSSH(h *config.HostConfig) bool {
	if h.ForceNativeSSH {
		return true
	}
	return h.JumpHost != nil && hasPasswordAuth(h)
}
