// SPDX-License-Identifier: ice License 1.0

package config_test

import (
	"testing"
	stdlibtime "time"

	"github.com/stretchr/testify/assert"

	"github.com/ice-blockchain/webtransport/config"
)

func TestMustLoadFromKey(t *testing.T) {
	t.Parallel()
	var cfg struct {
		Encoder string `yaml:"encoder"`
		Level   string `yaml:"level"`
	}
	config.MustLoadFromKey("logger", &cfg)
	assert.Equal(t, "console", cfg.Encoder)
	assert.Equal(t, "debug", cfg.Level)
}

func TestMustLoadFromKeyNestedServerConfig(t *testing.T) {
	t.Parallel()
	var cfg struct {
		WTServer struct {
			CertPath    string              `yaml:"certPath"`
			Port        uint16              `yaml:"port"`
			ReadTimeout stdlibtime.Duration `yaml:"readTimeout"`
		} `yaml:"wtServer"`
		Development bool `yaml:"development"`
	}
	config.MustLoadFromKey("self", &cfg)
	assert.True(t, cfg.Development)
	assert.Equal(t, uint16(9443), cfg.WTServer.Port)
	assert.Equal(t, ".testdata/localhost.crt", cfg.WTServer.CertPath)
	assert.Equal(t, 30*stdlibtime.Second, cfg.WTServer.ReadTimeout)
}
