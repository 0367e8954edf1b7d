package resilience

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// BreakerConfig holds per-service breaker tuning sourced from env.
type BreakerConfig struct {
	Timeout                  time.Duration
	ErrorThresholdPercentage int
	ResetTimeout             time.Duration
	Enabled                  bool
}

// DefaultBreakerConfig is the generic profile: 10s timeout, 50% error
// threshold, 30s reset, enabled.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Timeout:                  10 * time.Second,
		ErrorThresholdPercentage: 50,
		ResetTimeout:             30 * time.Second,
		Enabled:                  true,
	}
}

// LoadBreakerConfig reads breaker tuning for the named service from env,
// starting from the given defaults. Variables are namespaced by the
// uppercased service name:
//
//	RESILIENCE_TIMEOUT_<NAME>_MS
//	RESILIENCE_CIRCUIT_ERROR_THRESHOLD_<NAME>
//	RESILIENCE_CIRCUIT_RESET_TIMEOUT_<NAME>_MS
//	RESILIENCE_CIRCUITBREAKER_<NAME>   ("false" disables; anything else enables)
//
// Unset or unparseable integers fall back to the defaults so a bad
// deploy-time value degrades to the service profile instead of failing.
func LoadBreakerConfig(name string, defaults BreakerConfig) BreakerConfig {
	upper := strings.ToUpper(name)
	return BreakerConfig{
		Timeout:                  time.Duration(envInt("RESILIENCE_TIMEOUT_"+upper+"_MS", int(defaults.Timeout/time.Millisecond))) * time.Millisecond,
		ErrorThresholdPercentage: envInt("RESILIENCE_CIRCUIT_ERROR_THRESHOLD_"+upper, defaults.ErrorThresholdPercentage),
		ResetTimeout:             time.Duration(envInt("RESILIENCE_CIRCUIT_RESET_TIMEOUT_"+upper+"_MS", int(defaults.ResetTimeout/time.Millisecond))) * time.Millisecond,
		Enabled:                  os.Getenv("RESILIENCE_CIRCUITBREAKER_"+upper) != "false",
	}
}

// Options applies the config to breaker options for the named service.
func (c BreakerConfig) Options(name string) Options {
	return Options{
		Name:                     name,
		Timeout:                  c.Timeout,
		ErrorThresholdPercentage: c.ErrorThresholdPercentage,
		ResetTimeout:             c.ResetTimeout,
		Disabled:                 !c.Enabled,
	}
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return val
}
