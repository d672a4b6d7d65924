package config

import (
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// Target is a resolved device address with connection details.
type Target struct {
	Name    string // hostname as written in the maintenance file
	Address string // what to dial
	Port    int
	Driver  string // forced dialect, empty for auto-detection
}

// ResolveTarget resolves the dial address for a maintenance hostname.
// Explicit device overrides win, then ~/.ssh/config, then the global
// SSH port.
func ResolveTarget(cfg *Config, name string) Target {
	name = strings.TrimSpace(name)
	t := Target{Name: name, Address: name}

	if dev, ok := cfg.Devices[name]; ok {
		if dev.Address != "" {
			t.Address = dev.Address
		}
		t.Port = dev.Port
		t.Driver = dev.Driver
	}

	MergeSSHConfig(&t)

	if t.Port == 0 {
		t.Port = cfg.SSH.Port
	}
	if t.Port == 0 {
		t.Port = 22
	}
	return t
}

// MergeSSHConfig fills in Address and Port from ~/.ssh/config
// when they were not set explicitly. Lookups use the maintenance name so
// an ssh_config alias can map a short switch name to its management IP.
func MergeSSHConfig(t *Target) {
	if t.Address == t.Name {
		if hostname := sshConfigGet(t.Name, "HostName"); hostname != "" {
			t.Address = hostname
		}
	}

	if t.Port == 0 {
		if portStr := sshConfigGet(t.Name, "Port"); portStr != "" {
			if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
				t.Port = port
			}
		}
	}
}

// sshConfigGet looks up a key for a host in the user's SSH config.
// The package default of Port 22 is ignored so config-level ports apply.
func sshConfigGet(hostname, key string) string {
	val, err := ssh_config.GetStrict(hostname, key)
	if err != nil {
		return ""
	}
	if key == "Port" && val == ssh_config.Default("Port") {
		return ""
	}
	if key == "HostName" && val == hostname {
		return ""
	}
	return val
}
