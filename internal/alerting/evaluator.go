package alerting

import (
	"strings"

	"github.com/fieldsense/alertd/internal/errors"
)

// Comparison is a threshold operator.
type Comparison string

var comparisonAliases = map[string]Comparison{
	OperatorGreaterThan:        OperatorGreaterThan,
	OperatorLessThan:           OperatorLessThan,
	OperatorGreaterOrEqual:     OperatorGreaterOrEqual,
	OperatorLessOrEqual:        OperatorLessOrEqual,
	OperatorNameGreaterThan:    OperatorGreaterThan,
	OperatorNameLessThan:       OperatorLessThan,
	OperatorNameGreaterOrEqual: OperatorGreaterOrEqual,
	OperatorNameLessOrEqual:    OperatorLessOrEqual,
}

// ParseComparison accepts the symbolic operators and their named aliases.
func ParseComparison(s string) (Comparison, error) {
	if c, ok := comparisonAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return c, nil
	}
	return "", errors.Newf(errors.CategoryConfiguration, "parse comparison", "unknown comparison operator %q", s)
}

// Holds reports whether value cmp threshold is true.
func (c Comparison) Holds(value, threshold float64) bool {
	switch c {
	case OperatorGreaterThan:
		return value > threshold
	case OperatorLessThan:
		return value < threshold
	case OperatorGreaterOrEqual:
		return value >= threshold
	case OperatorLessOrEqual:
		return value <= threshold
	default:
		return false
	}
}

// Evaluate tests value against threshold. An unknown operator never matches
// and returns a configuration error for the caller to log.
func Evaluate(value float64, cmp string, threshold float64) (bool, error) {
	c, err := ParseComparison(cmp)
	if err != nil {
		return false, err
	}
	return c.Holds(value, threshold), nil
}
