// Package config loads the spacetimed server configuration from a YAML
// file merged with environment variable overrides, the way cmd/warren's
// apply command loads resource manifests with gopkg.in/yaml.v3.
package config
