package telemetry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
)

const gasesKey = "gases"

// Sample is one telemetry update from a device. It is never persisted.
type Sample struct {
	DeviceID string
	// Readings holds top-level numeric fields. Nested objects other than
	// gases are flattened with "." (e.g. "soilMoisture.raw").
	Readings map[string]float64
	// Gases holds the nested gases object, keyed by lower-case gas name.
	Gases      map[string]float64
	ReceivedAt time.Time
}

// NewSample builds a sample from already-decoded readings.
func NewSample(deviceID string, readings map[string]float64, receivedAt time.Time) *Sample {
	if readings == nil {
		readings = make(map[string]float64)
	}
	return &Sample{
		DeviceID:   deviceID,
		Readings:   readings,
		Gases:      make(map[string]float64),
		ReceivedAt: receivedAt,
	}
}

// ParseSample decodes a JSON telemetry payload. When deviceID is empty the
// payload's deviceId/device_id field is used. Non-numeric fields are ignored.
func ParseSample(deviceID string, payload []byte, receivedAt time.Time) (*Sample, error) {
	obj, err := jason.NewObjectFromBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("decode telemetry payload: %w", err)
	}

	if deviceID == "" {
		for _, key := range []string{"deviceId", "device_id", "deviceID"} {
			if id, err := obj.GetString(key); err == nil && id != "" {
				deviceID = id
				break
			}
		}
	}
	if deviceID == "" {
		return nil, fmt.Errorf("telemetry payload has no device id")
	}

	s := NewSample(deviceID, nil, receivedAt)
	for key, value := range obj.Map() {
		if strings.EqualFold(key, gasesKey) {
			if gases, err := value.Object(); err == nil {
				flatten("", gases, s.Gases, strings.ToLower)
			}
			continue
		}
		if nested, err := value.Object(); err == nil {
			flatten(key+".", nested, s.Readings, nil)
			continue
		}
		if f, ok := numeric(value); ok {
			s.Readings[key] = f
		}
	}
	return s, nil
}

func flatten(prefix string, obj *jason.Object, into map[string]float64, keyFn func(string) string) {
	for key, value := range obj.Map() {
		if keyFn != nil {
			key = keyFn(key)
		}
		if nested, err := value.Object(); err == nil {
			flatten(prefix+key+".", nested, into, keyFn)
			continue
		}
		if f, ok := numeric(value); ok {
			into[prefix+key] = f
		}
	}
}

// numeric accepts JSON numbers and numeric strings. Non-finite values such as
// "NaN" or "Inf" are not readings.
func numeric(v *jason.Value) (float64, bool) {
	f, err := v.Float64()
	if err != nil {
		str, serr := v.String()
		if serr != nil {
			return 0, false
		}
		if f, err = strconv.ParseFloat(strings.TrimSpace(str), 64); err != nil {
			return 0, false
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// reading returns the value of the first present key.
func (s *Sample) reading(keys ...string) (float64, string, bool) {
	for _, k := range keys {
		if v, ok := s.Readings[k]; ok {
			return v, k, true
		}
	}
	return 0, "", false
}

// Value extracts the canonical value of p. It is Normalize in method form.
func (s *Sample) Value(p Parameter) (float64, bool) {
	return Normalize(p, s)
}
