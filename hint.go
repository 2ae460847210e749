package asgen

import "fmt"

// Severity classifies a Hint's importance. The zero value is Pedantic, the
// quietest level.
type Severity uint

const (
	Pedantic Severity = iota
	Info
	Warning
	Error
)

var severityName = [...]string{"pedantic", "info", "warning", "error"}

func (s Severity) String() string {
	if int(s) >= len(severityName) {
		return "unknown"
	}
	return severityName[s]
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	for i, n := range severityName {
		if n == string(b) {
			*s = Severity(i)
			return nil
		}
	}
	return fmt.Errorf("asgen: unknown severity %q", string(b))
}

// Hint is a single tagged diagnostic attached to a package or, when the tag
// references an unresolvable component, the pseudo-id "general".
type Hint struct {
	ComponentID string         `json:"-"`
	Tag         string         `json:"tag"`
	Vars        map[string]any `json:"vars,omitempty"`
}

// GeneralComponentID is the pseudo component id hints accumulate under when
// they can't be attributed to a specific component.
const GeneralComponentID = "general"
