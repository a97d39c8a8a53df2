package editor

// State is the lifecycle state of a Session.
//
//	Empty -> Editing -> Submitting -> Published
//	Submitting -> FailedSubmit -> Editing
//	Empty | Editing | Submitting -> Discarded
type State int

const (
	StateEmpty State = iota
	StateEditing
	StateSubmitting
	StateFailedSubmit
	StatePublished
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateEditing:
		return "editing"
	case StateSubmitting:
		return "submitting"
	case StateFailedSubmit:
		return "failed_submit"
	case StatePublished:
		return "published"
	case StateDiscarded:
		return "discarded"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StatePublished || s == StateDiscarded
}
