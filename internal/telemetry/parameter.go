// Package telemetry models sensor samples and normalises raw readings into
// canonical units for rule evaluation.
package telemetry

import (
	"fmt"
	"strings"
)

// Parameter identifies a measurable quantity a rule can watch.
type Parameter string

// Supported parameters. The set is closed: every value must have an entry in
// parameterDefs.
const (
	SoilMoisture    Parameter = "soil-moisture-pct"
	SoilTemperature Parameter = "soil-temperature"
	AirTemperature  Parameter = "air-temperature"
	AirHumidity     Parameter = "air-humidity"
	AirQualityIndex Parameter = "air-quality-index"
	CO2             Parameter = "co2"
	NH3             Parameter = "nh3"
)

// extractor pulls a canonical reading for one parameter out of a sample.
type extractor func(s *Sample) (Reading, bool)

type parameterDef struct {
	label   string
	unit    string
	extract extractor
}

var parameterOrder = []Parameter{
	SoilMoisture,
	SoilTemperature,
	AirTemperature,
	AirHumidity,
	AirQualityIndex,
	CO2,
	NH3,
}

var parameterDefs = map[Parameter]parameterDef{
	SoilMoisture: {
		label:   "soil moisture",
		unit:    "%",
		extract: extractSoilMoisture,
	},
	SoilTemperature: {
		label:   "soil temperature",
		unit:    "°C",
		extract: readingExtractor("soilTemperature", "soil_temperature", "soilTemp"),
	},
	AirTemperature: {
		label:   "air temperature",
		unit:    "°C",
		extract: readingExtractor("airTemperature", "air_temperature", "temperature"),
	},
	AirHumidity: {
		label:   "air humidity",
		unit:    "%",
		extract: readingExtractor("airHumidity", "air_humidity", "humidity"),
	},
	AirQualityIndex: {
		label:   "air quality index",
		unit:    "AQI",
		extract: readingExtractor("airQualityIndex", "air_quality_index", "aqi"),
	},
	CO2: {
		label:   "CO2",
		unit:    "ppm",
		extract: gasExtractor("co2"),
	},
	NH3: {
		label:   "NH3",
		unit:    "ppm",
		extract: gasExtractor("nh3"),
	},
}

// Parameters returns every supported parameter in display order.
func Parameters() []Parameter {
	out := make([]Parameter, len(parameterOrder))
	copy(out, parameterOrder)
	return out
}

// ParseParameter validates a parameter name. Matching is case-insensitive and
// accepts underscores in place of dashes.
func ParseParameter(name string) (Parameter, error) {
	p := Parameter(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-"))
	if _, ok := parameterDefs[p]; !ok {
		return "", fmt.Errorf("unknown telemetry parameter %q", name)
	}
	return p, nil
}

// Valid reports whether p is a supported parameter.
func (p Parameter) Valid() bool {
	_, ok := parameterDefs[p]
	return ok
}

// Label is the human readable name, e.g. "soil moisture".
func (p Parameter) Label() string {
	if def, ok := parameterDefs[p]; ok {
		return def.label
	}
	return string(p)
}

// Unit is the canonical unit after normalisation.
func (p Parameter) Unit() string {
	return parameterDefs[p].unit
}

func (p Parameter) String() string { return string(p) }

func readingExtractor(keys ...string) extractor {
	return func(s *Sample) (Reading, bool) {
		v, key, ok := s.reading(keys...)
		return Reading{Value: v, Source: key}, ok
	}
}

// gasExtractor prefers the nested gases object and falls back to a top-level
// reading of the same name.
func gasExtractor(name string) extractor {
	return func(s *Sample) (Reading, bool) {
		if v, ok := s.Gases[name]; ok {
			return Reading{Value: v, Source: gasesKey + "." + name}, true
		}
		v, key, ok := s.reading(name, strings.ToUpper(name))
		return Reading{Value: v, Source: key}, ok
	}
}
