// Package configuration loads the coordinator configuration from TOML.
package configuration

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/model"
)

// LoadConfig loads the coordinator configuration from a file and reports keys it did not recognize.
func LoadConfig(filePath string) (*model.CoordinatorConfig, []string, error) {
	var config model.CoordinatorConfig
	md, err := toml.DecodeFile(filePath, &config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config from %s: %w", filePath, err)
	}
	return &config, undecodedKeys(md), nil
}

// LoadConfigString loads the coordinator configuration from a string.
func LoadConfigString(configStr string) (*model.CoordinatorConfig, error) {
	var config model.CoordinatorConfig
	if _, err := toml.Decode(configStr, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

func undecodedKeys(md toml.MetaData) []string {
	keys := md.Undecoded()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	return out
}
