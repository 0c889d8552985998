package main

import (
	"errors"
	"fmt"
)

// DeviceError reports a failure talking to the SunSpec device
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string { return fmt.Sprintf("device %s: %v", e.Op, e.Err) }
func (e *DeviceError) Unwrap() error { return e.Err }

// PublishError reports a failure talking to the MQTT broker
type PublishError struct {
	Op  string
	Err error
}

func (e *PublishError) Error() string { return fmt.Sprintf("mqtt %s: %v", e.Op, e.Err) }
func (e *PublishError) Unwrap() error { return e.Err }

// ConfigError reports an invalid or missing setting
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config %s: %v", e.Field, e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// errorKind names the error category for log output
func errorKind(err error) string {
	var deviceErr *DeviceError
	var publishErr *PublishError
	var configErr *ConfigError
	switch {
	case errors.As(err, &deviceErr):
		return "DeviceError"
	case errors.As(err, &publishErr):
		return "PublishError"
	case errors.As(err, &configErr):
		return "ConfigError"
	default:
		return "Error"
	}
}
