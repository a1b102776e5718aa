package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// HostConfig describes one configured SSH host. Exactly one auth method is
// effective at runtime; the effective order is password, key, agent.
type HostConfig struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Hostname string `json:"hostname" yaml:"hostname"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`

	PrivateKeyPath   string `json:"private_key_path,omitempty" yaml:"private_key_path,omitempty"`
	Password         string `json:"password,omitempty" yaml:"password,omitempty"`
	PasswordEnvVar   string `json:"password_env_var,omitempty" yaml:"password_env_var,omitempty"`
	Passphrase       string `json:"passphrase,omitempty" yaml:"passphrase,omitempty"`
	PassphraseEnvVar string `json:"passphrase_env_var,omitempty" yaml:"passphrase_env_var,omitempty"`
	UseAgent         bool   `json:"use_agent,omitempty" yaml:"use_agent,omitempty"`

	// ForceNativeSSH makes the manager use the native ssh binary even when
	// library-based tunneling would work (e.g. key-only jump hosts).
	ForceNativeSSH bool `json:"force_native_ssh,omitempty" yaml:"force_native_ssh,omitempty"`

	JumpHost *JumpHostConfig `json:"jump_host,omitempty" yaml:"jump_host,omitempty"`
}

// JumpHostConfig is the bastion hop: same shape as HostConfig minus nesting.
type JumpHostConfig struct {
	Hostname string `json:"hostname" yaml:"hostname"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`

	PrivateKeyPath   string `json:"private_key_path,omitempty" yaml:"private_key_path,omitempty"`
	Password         string `json:"password,omitempty" yaml:"password,omitempty"`
	PasswordEnvVar   string `json:"password_env_var,omitempty" yaml:"password_env_var,omitempty"`
	Passphrase       string `json:"passphrase,omitempty" yaml:"passphrase,omitempty"`
	PassphraseEnvVar string `json:"passphrase_env_var,omitempty" yaml:"passphrase_env_var,omitempty"`
	UseAgent         bool   `json:"use_agent,omitempty" yaml:"use_agent,omitempty"`
}

type hostsFile struct {
	Hosts []HostConfig `json:"hosts" yaml:"hosts"`
}

// LoadHosts reads the hosts file at path. Both JSON and YAML are accepted;
// the format is chosen by file extension. A missing file is not an error;
// the server starts with only the local pseudo-host.
func LoadHosts(path string) ([]HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read hosts file %s: %w", path, err)
	}

	var f hostsFile
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse hosts yaml %s: %w", path, err)
		}
	} else {
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse hosts json %s: %w", path, err)
		}
	}

	for i := range f.Hosts {
		NormalizeHost(&f.Hosts[i])
		if err := ValidateHost(&f.Hosts[i]); err != nil {
			return nil, fmt.Errorf("host %q: %w", f.Hosts[i].ID, err)
		}
	}
	if err := checkUniqueIDs(f.Hosts); err != nil {
		return nil, err
	}
	return f.Hosts, nil
}

// NormalizeHost fills defaults (port 22) and expands key paths.
func NormalizeHost(h *HostConfig) {
	if h.Port == 0 {
		h.Port = 22
	}
	h.PrivateKeyPath = ExpandHome(h.PrivateKeyPath)
	if h.JumpHost != nil {
		if h.JumpHost.Port == 0 {
			h.JumpHost.Port = 22
		}
		h.JumpHost.PrivateKeyPath = ExpandHome(h.JumpHost.PrivateKeyPath)
	}
}

// ValidateHost checks required fields and port range for one host entry.
func ValidateHost(h *HostConfig) error {
	if h.ID == "" {
		return fmt.Errorf("missing id")
	}
	if h.ID == "local" {
		return fmt.Errorf("id %q is reserved", h.ID)
	}
	if h.Hostname == "" {
		return fmt.Errorf("missing hostname")
	}
	if h.Username == "" {
		return fmt.Errorf("missing username")
	}
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port %d out of range 1..65535", h.Port)
	}
	if h.JumpHost != nil {
		j := h.JumpHost
		if j.Hostname == "" || j.Username == "" {
			return fmt.Errorf("jump host missing hostname or username")
		}
		if j.Port < 1 || j.Port > 65535 {
			return fmt.Errorf("jump host port %d out of range 1..65535", j.Port)
		}
	}
	return nil
}

func checkUniqueIDs(hosts []HostConfig) error {
	seen := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		if seen[h.ID] {
			return fmt.Errorf("duplicate host id %q", h.ID)
		}
		seen[h.ID] = true
	}
	return nil
}

// SaveHosts writes the hosts file back atomically (tmp + rename), preserving
// the format implied by the path extension.
func SaveHosts(path string, hosts []HostConfig) error {
	f := hostsFile{Hosts: hosts}

	var data []byte
	var err error
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(&f)
	} else {
		data, err = json.MarshalIndent(&f, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode hosts file: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
