package scheduler

import (
	"regexp"
	"strconv"
	"strings"
)

var stepPattern = regexp.MustCompile(`^([A-Za-z0-9_]+)(?:\*(\d+))?$`)

// ParseSequence compiles the text notation "A*3 -> B|C -> D*2" into steps.
// names maps the short names used in text to button ids. "A|B" lists
// mutually exclusive candidates; the step repeats as often as its largest
// count. Unknown names are dropped, and a step with no known candidate is
// dropped entirely.
func ParseSequence(text string, names map[string]string) []StepSpec {
	var steps []StepSpec
	for _, part := range strings.Split(text, "->") {
		var ids []string
		repeat := 1
		for _, alt := range strings.Split(part, "|") {
			m := stepPattern.FindStringSubmatch(strings.TrimSpace(alt))
			if m == nil {
				continue
			}
			if m[2] != "" {
				if n, err := strconv.Atoi(m[2]); err == nil && n > repeat {
					repeat = n
				}
			}
			if id, ok := names[m[1]]; ok && id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		step := NewStep(ids...)
		step.Repeat = repeat
		steps = append(steps, step)
	}
	return steps
}
