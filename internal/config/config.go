// Package config loads and validates the acoustic network stack's YAML
// configuration file.
package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigError reports malformed or inconsistent configuration. It is fatal
// at startup; callers should not attempt to recover from it.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s", e.Reason)
}

// LogConfig controls the ambient logging surface.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// BridgeConfig configures the optional NAT/ICMP bridge.
type BridgeConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Interfaces []string `yaml:"interfaces"` // OS interface names to watch inbound
}

// MonitorConfig configures the optional live-telemetry websocket + metrics
// endpoint.
type MonitorConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ListenAddr     string `yaml:"listen_addr"`
	PrometheusPath string `yaml:"prometheus_path"`
}

// Config is the root configuration record. Field names mirror the
// recognized keys from the acoustic network stack's YAML schema.
type Config struct {
	SampleRate     uint32   `yaml:"sample_rate"`
	CarrierFreq    []uint32 `yaml:"carrier_freq"`
	RedundentTimes int      `yaml:"redundent_times"`
	EnableOFDM     bool     `yaml:"enable_ofdm"`
	EnableECC      bool     `yaml:"enable_ecc"`

	LowestPowerLimit float32 `yaml:"lowest_power_limit"`

	MaxFrameDataLength             int `yaml:"max_frame_data_length"`
	FramePayloadLength             int `yaml:"frame_payload_length"`
	MaxFrameDataLengthNoEncoding   int `yaml:"max_frame_data_length_no_encoding"`
	FrameLengthLengthNoEncoding    int `yaml:"frame_length_length_no_encoding"`
	FrameCRCLengthNoEncoding       int `yaml:"frame_crc_length_no_encoding"`

	MACAddr byte `yaml:"mac_addr"`

	IPAddr    net.IP `yaml:"ip_addr"`
	IPMask    net.IP `yaml:"ip_mask"`
	IPGateway net.IP `yaml:"ip_gateway"`

	Bridge  BridgeConfig  `yaml:"bridge"`
	Monitor MonitorConfig `yaml:"monitor"`
	Log     LogConfig     `yaml:"log"`

	// Derived at load time, not present in YAML.
	PayloadBitsLength int `yaml:"-"`
	DataBitsLength    int `yaml:"-"`
}

// Load reads filename, unmarshals it as YAML, derives the FEC-dependent
// frame sizes, applies defaults, and validates the result.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("failed to read config file: %v", err)}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("failed to parse config file: %v", err)}
	}

	cfg.applyDefaults()
	cfg.derive()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 48000
	}
	if c.RedundentTimes == 0 {
		c.RedundentTimes = 16
	}
	if c.LowestPowerLimit == 0 {
		c.LowestPowerLimit = 0.001
	}
	if c.Monitor.ListenAddr == "" {
		c.Monitor.ListenAddr = "127.0.0.1:7120"
	}
	if c.Monitor.PrometheusPath == "" {
		c.Monitor.PrometheusPath = "/metrics"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// derive computes the payload/data bit lengths the way the acoustic PHY
// generator does: the ECC and no-ECC pipelines produce differently shaped
// frames, and downstream code only ever wants the one the config selected.
func (c *Config) derive() {
	if c.EnableECC {
		c.PayloadBitsLength = c.FramePayloadLength
		c.DataBitsLength = c.MaxFrameDataLength
	} else {
		c.PayloadBitsLength = c.FrameCRCLengthNoEncoding +
			c.FrameLengthLengthNoEncoding +
			c.MaxFrameDataLengthNoEncoding
		c.DataBitsLength = c.MaxFrameDataLengthNoEncoding
	}
}

// Validate checks the invariants that must hold before any PHY/MAC
// component is constructed from this config.
func (c *Config) Validate() error {
	if len(c.CarrierFreq) == 0 {
		return &ConfigError{Reason: "carrier_freq must list at least one frequency"}
	}
	if c.EnableOFDM {
		if len(c.CarrierFreq) < 2 {
			return &ConfigError{Reason: "enable_ofdm requires at least two carrier_freq entries"}
		}
		for i := 0; i+1 < len(c.CarrierFreq); i++ {
			if c.CarrierFreq[i] == 0 || c.CarrierFreq[i+1] != 2*c.CarrierFreq[i] {
				return &ConfigError{Reason: fmt.Sprintf(
					"carrier_freq[%d]=%d must be exactly double carrier_freq[%d]=%d under OFDM",
					i+1, c.CarrierFreq[i+1], i, c.CarrierFreq[i])}
			}
		}
	}
	if c.MACAddr > 0x0F {
		return &ConfigError{Reason: fmt.Sprintf("mac_addr %d exceeds the 4-bit address space (0-15)", c.MACAddr)}
	}
	if c.EnableECC {
		if c.FramePayloadLength != 144 {
			return &ConfigError{Reason: "frame_payload_length must be 144 bits (24 hexbits) when enable_ecc is set"}
		}
		// RS(24,12) medium profile carries 12 data hexbits (72 bits) per
		// phy-frame; 12 of those bits are the length field, leaving 60 for
		// actual data.
		if c.MaxFrameDataLength == 0 || c.MaxFrameDataLength > 60 {
			return &ConfigError{Reason: "max_frame_data_length must be in (0,60] bits under the RS(24,12) medium profile"}
		}
	} else {
		if c.MaxFrameDataLengthNoEncoding == 0 {
			return &ConfigError{Reason: "max_frame_data_length_no_encoding must be > 0 when enable_ecc is false"}
		}
		if c.FrameLengthLengthNoEncoding == 0 || c.FrameCRCLengthNoEncoding == 0 {
			return &ConfigError{Reason: "frame_length_length_no_encoding and frame_crc_length_no_encoding must be > 0 when enable_ecc is false"}
		}
		if (c.FrameLengthLengthNoEncoding+c.MaxFrameDataLengthNoEncoding)%8 != 0 {
			return &ConfigError{Reason: "frame_length_length_no_encoding + max_frame_data_length_no_encoding must be byte-aligned"}
		}
	}
	if c.Bridge.Enabled {
		if c.IPAddr == nil || c.IPMask == nil {
			return &ConfigError{Reason: "bridge.enabled requires ip_addr and ip_mask"}
		}
		if len(c.Bridge.Interfaces) == 0 {
			return &ConfigError{Reason: "bridge.enabled requires at least one entry in bridge.interfaces"}
		}
	}
	return nil
}
