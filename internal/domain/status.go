package domain

import "strings"

// Normalized status codes derived from the upstream tracker.
const (
	StatusCodeIntroduced    = "introduced"
	StatusCodeCommittee     = "committee"
	StatusCodePassedHouse   = "passed_house"
	StatusCodePassedSenate  = "passed_senate"
	StatusCodeToPresident   = "to_president"
	StatusCodeBecameLaw     = "became_law"
	StatusCodeFailed        = "failed"
	StatusCodeUnknown       = "unknown"
	// StatusCodeProblematic is the sentinel an enricher emits when the
	// tracker exists but cannot be interpreted; it always fails validation.
	StatusCodeProblematic = "problematic"
)

const defaultStatusLabel = "Introduced"

var statusCodes = map[string]string{
	"introduced":             StatusCodeIntroduced,
	"in committee":           StatusCodeCommittee,
	"reported":               StatusCodeCommittee,
	"ordered reported":       StatusCodeCommittee,
	"passed house":           StatusCodePassedHouse,
	"passed senate":          StatusCodePassedSenate,
	"agreed to in house":     StatusCodePassedHouse,
	"agreed to in senate":    StatusCodePassedSenate,
	"resolving differences":  StatusCodeCommittee,
	"to president":           StatusCodeToPresident,
	"became law":             StatusCodeBecameLaw,
	"became public law":      StatusCodeBecameLaw,
	"vetoed":                 StatusCodeFailed,
	"failed house":           StatusCodeFailed,
	"failed senate":          StatusCodeFailed,
	"failed to pass":         StatusCodeFailed,
}

// DeriveStatus picks the human-readable status label and its normalized code
// from a tracker sequence: the last step marked selected wins, falling back to
// the final step, and to "Introduced" when the sequence is empty.
func DeriveStatus(steps []TrackerStep) (label, code string) {
	if len(steps) == 0 {
		return defaultStatusLabel, StatusCodeIntroduced
	}

	label = steps[len(steps)-1].Name
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Selected {
			label = steps[i].Name
			break
		}
	}

	return label, NormalizeStatusCode(label)
}

// NormalizeStatusCode maps a tracker label onto a stable status code.
func NormalizeStatusCode(label string) string {
	key := strings.ToLower(strings.TrimSpace(label))
	if key == "" {
		return StatusCodeProblematic
	}
	if code, ok := statusCodes[key]; ok {
		return code
	}
	return StatusCodeUnknown
}
