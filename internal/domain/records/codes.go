package records

import (
	"encoding/json"
	"strconv"
	"strings"
)

// CodeSet is a closed enumeration whose members may arrive from the remote
// store either as an integer code or as a display/enum string.
type CodeSet struct {
	Name   string
	labels []string
	alias  map[string]int
}

func newCodeSet(name string, labels []string, aliases map[string]int) *CodeSet {
	cs := &CodeSet{Name: name, labels: labels, alias: make(map[string]int, len(labels)+len(aliases))}
	for i, l := range labels {
		cs.alias[strings.ToLower(l)] = i
	}
	for a, i := range aliases {
		cs.alias[a] = i
	}
	return cs
}

// Code sets used by Person and Attendance records.
var (
	GenderCodes = newCodeSet("gender", []string{"Male", "Female", "Other"}, nil)

	// Code 2 is GRADUATED on the server; older clients labelled it "Dropout".
	StatusCodes = newCodeSet("studentStatus", []string{"Active", "Inactive", "Graduated"}, map[string]int{"dropout": 2})

	AttendanceCodes = newCodeSet("attendanceStatus", []string{"Present", "Absent", "Excused"}, nil)
)

// Len returns the number of members.
func (c *CodeSet) Len() int { return len(c.labels) }

// Labels returns the display strings in code order.
func (c *CodeSet) Labels() []string {
	out := make([]string, len(c.labels))
	copy(out, c.labels)
	return out
}

// Code resolves an integer code, a numeric string or a display/enum string
// (case-insensitive) to the integer code.
func (c *CodeSet) Code(v any) (int, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case int:
		return c.inRange(int64(x))
	case int64:
		return c.inRange(x)
	case float64:
		if x != float64(int64(x)) {
			return 0, false
		}
		return c.inRange(int64(x))
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, false
		}
		return c.inRange(n)
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return c.inRange(n)
		}
		i, ok := c.alias[s]
		return i, ok
	}
	return 0, false
}

func (c *CodeSet) inRange(n int64) (int, bool) {
	if n < 0 || n >= int64(len(c.labels)) {
		return 0, false
	}
	return int(n), true
}

// Display resolves either form to the canonical display string. Unknown
// values render as their own text so nothing is hidden from the user.
func (c *CodeSet) Display(v any) string {
	if i, ok := c.Code(v); ok {
		return c.labels[i]
	}
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return strings.TrimSpace(jsonText(x))
	}
}
