package telemetry

// adcRanges are the known analog-to-digital full-scale values of supported
// soil moisture probes, smallest first. A raw value is attributed to the
// first range that contains it.
var adcRanges = []float64{255, 1023, 1024, 4095}

var (
	soilMoisturePercentKeys = []string{"soilMoisturePct", "soilMoisturePercentage", "soil_moisture_pct", "soilMoisture.percent", "soilMoisture.percentage"}
	soilMoistureRawKeys     = []string{"soilMoisture", "soilMoistureRaw", "soil_moisture", "soilMoisture.raw"}
)

// Reading is a normalised parameter value together with where it came from.
type Reading struct {
	Value float64
	// Source is the payload key the value was read from.
	Source string
	// Raw is the unconverted value when a conversion was applied.
	Raw float64
	// Converted is set when Value was derived from a raw ADC count.
	Converted bool
	// Uncalibrated is set when a raw value fell outside every known ADC range
	// and was clamped instead of converted.
	Uncalibrated bool
}

// Normalize returns the canonical value of p from s. ok is false when the
// sample carries no reading for p, which callers must not treat as zero.
func Normalize(p Parameter, s *Sample) (value float64, ok bool) {
	r, ok := Extract(p, s)
	return r.Value, ok
}

// Extract is Normalize with conversion details.
func Extract(p Parameter, s *Sample) (Reading, bool) {
	if s == nil {
		return Reading{}, false
	}
	def, known := parameterDefs[p]
	if !known {
		return Reading{}, false
	}
	return def.extract(s)
}

func extractSoilMoisture(s *Sample) (Reading, bool) {
	if pct, key, ok := s.reading(soilMoisturePercentKeys...); ok {
		return Reading{Value: clampPercent(pct), Source: key}, true
	}
	raw, key, ok := s.reading(soilMoistureRawKeys...)
	if !ok {
		return Reading{}, false
	}
	pct, calibrated := SoilMoisturePercent(raw)
	return Reading{
		Value:        pct,
		Source:       key,
		Raw:          raw,
		Converted:    true,
		Uncalibrated: !calibrated,
	}, true
}

// SoilMoisturePercent converts a raw ADC reading into 0-100% moisture. The
// probe scale is inverted: higher raw means drier soil. The bit depth is
// guessed by bracketing raw into the known ADC ranges, so a reading of 200
// from a 10-bit probe is read as 8-bit. Raw values outside every known range
// are clamped to [0,100] as-is and reported with calibrated=false.
func SoilMoisturePercent(raw float64) (pct float64, calibrated bool) {
	full, ok := ADCRange(raw)
	if !ok {
		return clampPercent(raw), false
	}
	return clampPercent((full - raw) / full * 100), true
}

// ADCRange returns the full-scale value a raw reading is attributed to.
func ADCRange(raw float64) (float64, bool) {
	if raw < 0 {
		return 0, false
	}
	for _, full := range adcRanges {
		if raw <= full {
			return full, true
		}
	}
	return 0, false
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
