package terminal

import (
	"fmt"
	"strconv"
	"strings"

	"vision_automation/domain/entities"
)

var stepVerbs = map[string]entities.ActionKind{
	"click":          entities.ActionClick,
	"type":           entities.ActionType,
	"clear":          entities.ActionClearAndType,
	"clear_and_type": entities.ActionClearAndType,
	"wait":           entities.ActionWaitFor,
	"wait_for":       entities.ActionWaitFor,
}

// ParseStep - reads one step written as
//
//	click <label> [#index]
//	type <label> = <value>
//	clear <label> = <value>
//	wait <label>
//
// index is zero based and counts matching elements in reading order.
func ParseStep(line string) (entities.TargetSpec, error) {
	line = strings.TrimSpace(line)
	verb, rest, _ := strings.Cut(line, " ")
	kind, ok := stepVerbs[strings.ToLower(verb)]
	if !ok {
		return entities.TargetSpec{}, fmt.Errorf("unknown action %q", verb)
	}
	spec := entities.TargetSpec{Kind: kind}

	label := strings.TrimSpace(rest)
	if kind == entities.ActionType || kind == entities.ActionClearAndType {
		l, value, found := strings.Cut(label, "=")
		if !found {
			return spec, fmt.Errorf("%s needs '<label> = <value>'", verb)
		}
		label = strings.TrimSpace(l)
		spec.Value = strings.TrimSpace(value)
	}

	if i := strings.LastIndex(label, "#"); i >= 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(label[i+1:])); err == nil {
			if n < 0 {
				return spec, fmt.Errorf("index must not be negative")
			}
			spec.Index = &n
			label = strings.TrimSpace(label[:i])
		}
	}

	if label == "" {
		return spec, fmt.Errorf("%s needs a target label", verb)
	}
	spec.Label = label
	return spec, nil
}

// ParseSteps - parses every line, reporting the first bad one
func ParseSteps(lines []string) ([]entities.TargetSpec, error) {
	steps := make([]entities.TargetSpec, 0, len(lines))
	for i, l := range lines {
		spec, err := ParseStep(l)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		steps = append(steps, spec)
	}
	return steps, nil
}
