// Package config embeds the default server configuration.
package config

import _ "embed"

// Default is the YAML loaded before any conf.yaml or environment override.
//
//go:embed default.yaml
var Default []byte
