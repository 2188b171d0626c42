package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Priority is informational; it does not affect routing or ordering.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityUrgent   Priority = 4
	PriorityCritical Priority = 5
)

var priorityNames = map[Priority]string{
	PriorityLow:      "LOW",
	PriorityNormal:   "NORMAL",
	PriorityHigh:     "HIGH",
	PriorityUrgent:   "URGENT",
	PriorityCritical: "CRITICAL",
}

func (p Priority) String() string {
	if s, ok := priorityNames[p]; ok {
		return s
	}
	return "Priority(" + strconv.Itoa(int(p)) + ")"
}

// Level is the numeric form carried in record headers.
func (p Priority) Level() int { return int(p) }

// ParsePriority accepts a name (any case) or a level 1..5.
func ParsePriority(s string) (Priority, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		p := Priority(n)
		if _, ok := priorityNames[p]; ok {
			return p, nil
		}
		return 0, fmt.Errorf("event: priority level %d out of range", n)
	}
	for p, name := range priorityNames {
		if strings.EqualFold(name, s) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("event: unknown priority %q", s)
}

func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var (
		v   Priority
		err error
	)
	switch t := raw.(type) {
	case nil:
		*p = PriorityNormal
		return nil
	case float64:
		v, err = ParsePriority(strconv.Itoa(int(t)))
	case string:
		v, err = ParsePriority(t)
	default:
		err = fmt.Errorf("event: priority must be a string or number, got %s", string(b))
	}
	if err != nil {
		return err
	}
	*p = v
	return nil
}
