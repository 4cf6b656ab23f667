package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"p4ctl/client"
)

func TestParse(t *testing.T) {
	data := []byte(`
address: 10.0.0.1:50001
device_id: 2
client_id: 7
program: basic_fwd
p4info: build/basic_fwd.p4info.txt
device_config: build/basic_fwd.json
handshake_timeout: 1s
log_level: debug
clear_all_ignore: [t_const, acl]
multicast:
  - id: 1
    rid: 3
    ports: [1, 2]
`)
	c, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Address != "10.0.0.1:50001" || c.DeviceID != 2 || c.ClientID != 7 {
		t.Errorf("session fields = %+v", c)
	}
	if c.HandshakeTimeout != time.Second {
		t.Errorf("HandshakeTimeout = %s", c.HandshakeTimeout)
	}
	if c.RPCTimeout != client.DefaultRPCTimeout || c.TeardownGrace != client.DefaultTeardownGrace {
		t.Errorf("defaults not applied: %s %s", c.RPCTimeout, c.TeardownGrace)
	}
	if len(c.ClearAllIgnore) != 2 || c.ClearAllIgnore[1] != "acl" {
		t.Errorf("ClearAllIgnore = %v", c.ClearAllIgnore)
	}
	if len(c.Multicast) != 1 || c.Multicast[0].RID != 3 || len(c.Multicast[0].Ports) != 2 {
		t.Errorf("Multicast = %+v", c.Multicast)
	}
	if n := len(c.ClientOptions()); n != 3 {
		t.Errorf("%d client options", n)
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.Address != "localhost:9559" || c.LogLevel != "info" {
		t.Errorf("Default() = %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"bad yaml", "address: [", "parsing config YAML"},
		{"client id", "client_id: 70000", "client_id"},
		{"log level", "log_level: loud", "log_level"},
		{"negative timeout", "rpc_timeout: -1s", "rpc_timeout"},
		{"device config alone", "device_config: x.json", "p4info"},
		{"group zero", "multicast: [{id: 0, ports: [1]}]", "reserved"},
		{"duplicate group", "multicast: [{id: 2, ports: [1]}, {id: 2, ports: [2]}]", "twice"},
		{"empty group", "multicast: [{id: 3}]", "port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p4ctl.yaml")
	if err := os.WriteFile(path, []byte("address: switch1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Address != "switch1" {
		t.Errorf("Address = %q", c.Address)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "none.yaml")); err == nil {
		t.Error("missing file loaded")
	}
}
