package service

import (
	"fmt"
	"strings"
	"time"

	"testtheweb/models"
)

// SynthesizeSelector turns a captured interaction into the selector replay
// will resolve later. Priority is strict: id, then name attribute, then the
// lower-cased tag. Nothing is checked against the page here.
func SynthesizeSelector(ev models.RecorderEvent) string {
	if ev.ID != "" {
		return "#" + ev.ID
	}
	if ev.Name != "" {
		return fmt.Sprintf(`[name="%s"]`, ev.Name)
	}
	return strings.ToLower(ev.Target)
}

// DescribeEvent builds the human-readable summary stored with a step.
func DescribeEvent(ev models.RecorderEvent) string {
	switch ev.Type {
	case models.EventClick:
		return "Clicked on " + strings.ToLower(ev.Target)
	case models.EventSubmit:
		return "Submitted form " + firstNonEmpty(ev.ID, ev.Name, "unnamed form")
	case models.EventChange:
		return fmt.Sprintf("Changed %s to %s", firstNonEmpty(ev.Name, ev.ID, "field"), ev.Value)
	}
	return ""
}

// StepFromEvent converts an accepted event into a step. Submits replay as a
// click on the form's selector; changes replay as input.
func StepFromEvent(ev models.RecorderEvent, order int, at time.Time) (models.Step, bool) {
	step := models.Step{
		Selector:    SynthesizeSelector(ev),
		Timestamp:   at,
		Description: DescribeEvent(ev),
		Order:       order,
	}
	switch ev.Type {
	case models.EventClick, models.EventSubmit:
		step.Type = models.StepClick
	case models.EventChange:
		step.Type = models.StepInput
		step.Value = ev.Value
	default:
		return models.Step{}, false
	}
	return step, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
