package alerting

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/k3a/html2text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/fieldsense/alertd/internal/datastore/entities"
	"github.com/fieldsense/alertd/internal/notification"
	"github.com/fieldsense/alertd/internal/telemetry"
)

var titleCaser = cases.Title(language.English, cases.NoLower)

var bodyTemplate = template.Must(template.New("alert").Parse(
	`<p>{{if .Test}}<strong>[TEST]</strong> {{end}}{{if .Critical}}<strong>CRITICAL:</strong> {{end}}` +
		`{{.Label}} on device {{.DeviceID}} is {{.Observed}}{{.Unit}}, ` +
		`which is {{.Comparison}} the threshold of {{.Threshold}}{{.Unit}}.</p>` +
		`{{if .RuleName}}<p>Rule: {{.RuleName}}</p>{{end}}` +
		`<p>Observed at {{.At}}.</p>`))

type messageData struct {
	Label      string
	DeviceID   string
	Observed   string
	Threshold  string
	Unit       string
	Comparison string
	RuleName   string
	At         string
	Critical   bool
	Test       bool
}

// RenderMessage builds the notification for a firing. The HTML body goes to
// email; Text is its plain-text rendering for SMS.
func RenderMessage(rule *entities.AlertRule, observed float64, deviceID string, origin string, at time.Time) *notification.Message {
	param, err := telemetry.ParseParameter(rule.Parameter)
	if err != nil {
		param = telemetry.Parameter(rule.Parameter)
	}
	label := titleCaser.String(param.Label())
	isTest := origin == entities.OriginTest

	data := messageData{
		Label:      label,
		DeviceID:   deviceID,
		Observed:   formatValue(observed),
		Threshold:  formatValue(rule.Threshold),
		Unit:       param.Unit(),
		Comparison: comparisonPhrase(rule.Comparison),
		RuleName:   rule.Name,
		At:         at.UTC().Format(time.RFC3339),
		Critical:   rule.Critical,
		Test:       isTest,
	}

	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, data); err != nil {
		buf.Reset()
		buf.WriteString(template.HTMLEscapeString(fmt.Sprintf("%s on device %s is %s", label, deviceID, data.Observed)))
	}
	html := buf.String()

	title := fmt.Sprintf("%s alert: %s%s", label, data.Observed, data.Unit)
	if rule.Critical {
		title = "CRITICAL " + title
	}
	if isTest {
		title = "[TEST] " + title
	}

	return &notification.Message{
		Title:    title,
		HTML:     html,
		Text:     strings.TrimSpace(html2text.HTML2Text(html)),
		Critical: rule.Critical,
	}
}

func comparisonPhrase(op string) string {
	cmp, err := ParseComparison(op)
	if err != nil {
		return op
	}
	switch cmp {
	case OperatorGreaterThan:
		return "above"
	case OperatorLessThan:
		return "below"
	case OperatorGreaterOrEqual:
		return "at or above"
	case OperatorLessOrEqual:
		return "at or below"
	}
	return op
}

// formatValue rounds to two decimals for display.
func formatValue(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}
