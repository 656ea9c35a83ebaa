package processor

// State is a step of the submission state machine
type State int

const (
	Received State = iota
	Validating
	PreflightChecking
	FetchingSourceAccount
	Assembling
	Signing
	Submitting
	// Accepted and Rejected are terminal
	Accepted
	Rejected
)

var stateNames = [...]string{
	Received:              "received",
	Validating:            "validating",
	PreflightChecking:     "preflight_checking",
	FetchingSourceAccount: "fetching_source_account",
	Assembling:            "assembling",
	Signing:               "signing",
	Submitting:            "submitting",
	Accepted:              "accepted",
	Rejected:              "rejected",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == Accepted || s == Rejected
}
