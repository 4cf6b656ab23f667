package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"p4ctl/client"
)

// Config 是 p4ctl 的配置文件，命令行参数会覆盖文件中的值
//
//	address: 10.0.0.1:9559
//	device_id: 1
//	program: basic_fwd
//	p4info: build/basic_fwd.p4info.txt
//	device_config: build/basic_fwd.json
//	handshake_timeout: 3s
//	clear_all_ignore: [t_const]
//	multicast:
//	  - id: 1
//	    ports: [1, 2, 3]
type Config struct {
	Address  string `yaml:"address"`
	DeviceID uint64 `yaml:"device_id"`
	ClientID uint32 `yaml:"client_id"`

	Program      string `yaml:"program"`
	P4Info       string `yaml:"p4info"`
	DeviceConfig string `yaml:"device_config"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	RPCTimeout       time.Duration `yaml:"rpc_timeout"`
	TeardownGrace    time.Duration `yaml:"teardown_grace"`

	LogLevel       string           `yaml:"log_level"`
	ClearAllIgnore []string         `yaml:"clear_all_ignore,omitempty"`
	Multicast      []MulticastGroup `yaml:"multicast,omitempty"`
}

// MulticastGroup 描述一个组播组，每个端口一个副本，replication id 均为 RID
type MulticastGroup struct {
	ID    uint32   `yaml:"id"`
	RID   uint32   `yaml:"rid"`
	Ports []uint32 `yaml:"ports"`
}

// Default 返回只设置了默认值的配置
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load 读取并校验配置文件
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse 解析 YAML 配置，补全默认值后校验
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Address == "" {
		c.Address = "localhost:" + client.DefaultPort
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = client.DefaultHandshakeTimeout
	}
	if c.RPCTimeout == 0 {
		c.RPCTimeout = client.DefaultRPCTimeout
	}
	if c.TeardownGrace == 0 {
		c.TeardownGrace = client.DefaultTeardownGrace
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate 检查配置是否自洽
func (c *Config) Validate() error {
	if c.ClientID > client.MaxClientID {
		return fmt.Errorf("client_id %d exceeds %d", c.ClientID, client.MaxClientID)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	for name, d := range map[string]time.Duration{
		"handshake_timeout": c.HandshakeTimeout,
		"rpc_timeout":       c.RPCTimeout,
		"teardown_grace":    c.TeardownGrace,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	if c.DeviceConfig != "" && c.P4Info == "" {
		return fmt.Errorf("device_config %s needs a p4info file", c.DeviceConfig)
	}

	seen := make(map[uint32]bool, len(c.Multicast))
	for i, g := range c.Multicast {
		if g.ID == 0 {
			return fmt.Errorf("multicast group %d: id 0 is reserved", i)
		}
		if seen[g.ID] {
			return fmt.Errorf("multicast group %d defined twice", g.ID)
		}
		seen[g.ID] = true
		if len(g.Ports) == 0 {
			return fmt.Errorf("multicast group %d: at least one port is required", g.ID)
		}
	}
	return nil
}

// ClientOptions 把配置中的超时转换为 client.Option
func (c *Config) ClientOptions() []client.Option {
	return []client.Option{
		client.WithHandshakeTimeout(c.HandshakeTimeout),
		client.WithRPCTimeout(c.RPCTimeout),
		client.WithTeardownGrace(c.TeardownGrace),
	}
}
