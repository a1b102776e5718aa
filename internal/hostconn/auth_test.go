package hostconn

import (
	"errors"
	"strings"
	"testing"

	"github.com/gluk-w/muxdeck/internal/config"
)

func TestResolvePassword(t *testing.T) {
	t.Setenv("MUXDECK_TEST_PW", "from-env")

	tests := []struct {
		name string
		spec credSpec
		want string
	}{
		{"literal wins", credSpec{password: "literal", passwordEnvVar: "MUXDECK_TEST_PW"}, "literal"},
		{"env fallback", credSpec{passwordEnvVar: "MUXDECK_TEST_PW"}, "from-env"},
		{"unset env", credSpec{passwordEnvVar: "MUXDECK_TEST_PW_MISSING"}, ""},
		{"nothing", credSpec{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.spec.resolvePassword(); got != tt.want {
				t.Errorf("resolvePassword() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAssembleAuthNoMethods(t *testing.T) {
	_, err := assembleAuth(credSpec{})
	if err == nil || !strings.Contains(err.Error(), "no usable auth method") {
		t.Errorf("err = %v, want no-usable-auth-method error", err)
	}
}

func TestUsesNativeSSH(t *testing.T) {
	tests := []struct {
		name string
		host config.HostConfig
		want bool
	}{
		{
			"direct key host",
			config.HostConfig{ID: "a", PrivateKeyPath: "/k"},
			false,
		},
		{
			"direct password host",
			config.HostConfig{ID: "b", Password: "pw"},
			false,
		},
		{
			"jump with key auth only",
			config.HostConfig{ID: "c", PrivateKeyPath: "/k",
				JumpHost: &config.JumpHostConfig{Hostname: "j", PrivateKeyPath: "/jk"}},
			false,
		},
		{
			"jump with target password",
			config.HostConfig{ID: "d", Password: "pw",
				JumpHost: &config.JumpHostConfig{Hostname: "j", PrivateKeyPath: "/jk"}},
			true,
		},
		{
			"jump with jump password",
			config.HostConfig{ID: "e", PrivateKeyPath: "/k",
				JumpHost: &config.JumpHostConfig{Hostname: "j", Password: "jpw"}},
			true,
		},
		{
			"forced native",
			config.HostConfig{ID: "f", PrivateKeyPath: "/k", ForceNativeSSH: true},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := usesNativeSSH(&tt.host); got != tt.want {
				t.Errorf("usesNativeSSH() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyConnectError(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		viaJump bool
		wantIn  error
	}{
		{"auth", "ssh: unable to authenticate, attempted methods [none publickey]", false, ErrAuthFailed},
		{"refused", "dial tcp 10.0.0.1:22: connect: connection refused", false, ErrNetwork},
		{"jump hop", "dial tcp 10.0.0.1:22: connect: connection refused", true, ErrJumpHost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyConnectError(errors.New(tt.msg), tt.viaJump)
			if !errors.Is(err, tt.wantIn) {
				t.Errorf("classify(%q) = %v, want wrapped %v", tt.msg, err, tt.wantIn)
			}
		})
	}
}
