package stream

import "strings"

// RecoveryOutcome is the result of offering a malformed fragment
type RecoveryOutcome int

const (
	// Buffered means the fragment looked like the start of a split object and was held
	Buffered RecoveryOutcome = iota
	// Merged means the fragment closed the held start; the merged text is returned
	Merged
	// Dropped means the fragment could not be recovered
	Dropped
)

func (o RecoveryOutcome) String() string {
	switch o {
	case Buffered:
		return "buffered"
	case Merged:
		return "merged"
	default:
		return "dropped"
	}
}

// DefaultStartTokens are the leading bytes of a stream object for every supported provider
var DefaultStartTokens = []string{`{"id"`, `{"model"`, `{"candidates"`, `{"choices"`, `{"object"`}

// FragmentRecovery repairs a JSON object that one chunk boundary cut in two.
//
// It is a single-slot heuristic, not a streaming JSON parser: a start fragment is
// recognised by its leading token and a close fragment by a trailing '}'. An object
// cut into three or more pieces is not recovered; its middle and closing pieces are
// dropped.
type FragmentRecovery struct {
	startTokens []string
	pending     string
}

// NewFragmentRecovery creates a recovery unit; nil tokens selects DefaultStartTokens
func NewFragmentRecovery(startTokens []string) *FragmentRecovery {
	if len(startTokens) == 0 {
		startTokens = DefaultStartTokens
	}
	return &FragmentRecovery{startTokens: startTokens}
}

// Offer handles a fragment that failed to parse. For Merged the concatenated
// candidate is returned and the slot is cleared whether or not it parses.
func (r *FragmentRecovery) Offer(fragment string) (string, RecoveryOutcome) {
	if r.looksLikeStart(fragment) {
		r.pending = fragment
		return "", Buffered
	}

	if strings.HasSuffix(fragment, "}") && r.pending != "" {
		merged := r.pending + fragment
		r.pending = ""
		return merged, Merged
	}

	return "", Dropped
}

// Pending reports whether a start fragment is being held
func (r *FragmentRecovery) Pending() bool {
	return r.pending != ""
}

// Reset clears the held fragment
func (r *FragmentRecovery) Reset() {
	r.pending = ""
}

func (r *FragmentRecovery) looksLikeStart(fragment string) bool {
	for _, token := range r.startTokens {
		if strings.HasPrefix(fragment, token) {
			return true
		}
	}
	return false
}
