package conf

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that is written as a human readable string
// ("2h0m0s") in JSON and YAML. On input it accepts either a Go duration
// string or a bare number of seconds, so suppression windows can be set from
// the environment as ALERTD_ALERTING_DEBOUNCE_WINDOW=60.
type Duration time.Duration

// Std converts Duration to a standard time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// ParseDuration parses "90s", "2h" or a bare number of seconds.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if parsed, err := time.ParseDuration(s); err == nil {
		return Duration(parsed), nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return secondsDuration(secs), nil
	}
	return 0, fmt.Errorf("invalid duration %q: expected format like \"60s\" or \"2h\"", s)
}

func secondsDuration(secs float64) Duration {
	return Duration(time.Duration(secs * float64(time.Second)))
}

// MarshalJSON outputs the duration as a JSON string like "60s".
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string, a number of seconds, or null.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case string:
		parsed, err := ParseDuration(value)
		if err != nil {
			return err
		}
		*d = parsed
	case float64:
		*d = secondsDuration(value)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration value: %v (type %T)", v, v)
	}
	return nil
}

// MarshalYAML outputs the duration as a human-readable string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML accepts a duration string or a bare number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected scalar duration value, got %v", value.Kind)
	}
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

var durationType = reflect.TypeFor[Duration]()

// DurationDecodeHook returns the mapstructure hook used when viper decodes
// Settings. It converts strings and numbers into Duration and keeps the
// standard time.Duration and comma separated slice conversions.
func DurationDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.DecodeHookFuncType(func(from, to reflect.Type, data any) (any, error) {
			if to != durationType {
				return data, nil
			}

			switch v := data.(type) {
			case string:
				return ParseDuration(v)
			case int:
				return secondsDuration(float64(v)), nil
			case int64:
				return secondsDuration(float64(v)), nil
			case float64:
				return secondsDuration(v), nil
			default:
				return data, nil
			}
		}),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}
