// Package config loads the daemon configuration. Actuator parameters live in
// their own document (see internal/params); this file covers the process
// level settings only.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	CAN         CANConfig         `mapstructure:"can"`
	Loop        LoopConfig        `mapstructure:"loop"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	Actuator    ActuatorConfig    `mapstructure:"actuator"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type CANConfig struct {
	Interface      string        `mapstructure:"interface"`
	NodeID         uint8         `mapstructure:"node_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type LoopConfig struct {
	CyclePeriod     time.Duration `mapstructure:"cycle_period"`
	TelemetryPeriod time.Duration `mapstructure:"telemetry_period"`
}

type DiagnosticsConfig struct {
	Period time.Duration `mapstructure:"period"`
}

type ActuatorConfig struct {
	// ParamsFile is the YAML document holding the actuator parameter tree.
	ParamsFile string `mapstructure:"params_file"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	// Defaults setzen
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("can.interface", "can0")
	viper.SetDefault("can.node_id", 1)
	viper.SetDefault("can.request_timeout", "500ms")
	viper.SetDefault("loop.cycle_period", "10ms")
	viper.SetDefault("loop.telemetry_period", "100ms")
	viper.SetDefault("diagnostics.period", "1s")

	// Environment Variables automatisch binden (Viper Feature)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("OSC") // Environment Variables mit Prefix OSC_

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Actuator.ParamsFile == "" {
		return nil, fmt.Errorf("actuator.params_file must be set")
	}

	return &config, nil
}
