package config

import (
	"os"
	"strconv"
	"time"
)

// Timeouts holds all configurable timeout values.
// These values can be customized via environment variables.
type Timeouts struct {
	ServerCreate      time.Duration // server creation, including action polling
	VolumeAttach      time.Duration // volume attach action
	Delete            time.Duration // all delete operations
	SSHReady          time.Duration // waiting for a fresh node to accept SSH
	NodeConverge      time.Duration // one node's full task list
	StackAvailable    time.Duration // scratch stack reaching available
	StackPoll         time.Duration // interval between stack state probes
	RetryMaxAttempts  int           // attempt budget for transient failures
	RetryInitialDelay time.Duration // first backoff delay
}

// LoadTimeouts loads timeout configuration from environment variables.
// If an environment variable is not set or invalid, a default value is used.
//
// Environment Variables:
//   - STRAND_TIMEOUT_SERVER_CREATE (default: 10m)
//   - STRAND_TIMEOUT_VOLUME_ATTACH (default: 2m)
//   - STRAND_TIMEOUT_DELETE (default: 5m)
//   - STRAND_TIMEOUT_SSH_READY (default: 5m)
//   - STRAND_TIMEOUT_NODE_CONVERGE (default: 15m)
//   - STRAND_TIMEOUT_STACK_AVAILABLE (default: 30m)
//   - STRAND_STACK_POLL_INTERVAL (default: 15s)
//   - STRAND_RETRY_MAX_ATTEMPTS (default: 6)
//   - STRAND_RETRY_INITIAL_DELAY (default: 1s)
func LoadTimeouts() *Timeouts {
	return &Timeouts{
		ServerCreate:      parseDuration("STRAND_TIMEOUT_SERVER_CREATE", 10*time.Minute),
		VolumeAttach:      parseDuration("STRAND_TIMEOUT_VOLUME_ATTACH", 2*time.Minute),
		Delete:            parseDuration("STRAND_TIMEOUT_DELETE", 5*time.Minute),
		SSHReady:          parseDuration("STRAND_TIMEOUT_SSH_READY", 5*time.Minute),
		NodeConverge:      parseDuration("STRAND_TIMEOUT_NODE_CONVERGE", 15*time.Minute),
		StackAvailable:    parseDuration("STRAND_TIMEOUT_STACK_AVAILABLE", 30*time.Minute),
		StackPoll:         parseDuration("STRAND_STACK_POLL_INTERVAL", 15*time.Second),
		RetryMaxAttempts:  parseInt("STRAND_RETRY_MAX_ATTEMPTS", 6),
		RetryInitialDelay: parseDuration("STRAND_RETRY_INITIAL_DELAY", time.Second),
	}
}

// parseDuration parses a duration from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

// parseInt parses an integer from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}
