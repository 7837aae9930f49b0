// Package config loads the device configuration from a YAML file and
// applies defaults and validation. The zero configuration (no file at
// all) runs a serial endpoint on stdin/stdout with baseline settings,
// so small deployments need no file.
package config
