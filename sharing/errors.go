package sharing

import (
	"errors"
	"fmt"

	"student_25_dcnet/marshalling"
)

// ErrAborted is returned when a sharing instance stops because a member
// disclosed values that do not open the commitments they were checked
// against
var ErrAborted = errors.New("sharing instance aborted")

// MismatchError is a commitment mismatch. Local is true when this member ran
// the failing check itself; otherwise Accuser is the member whose blame
// message stopped the instance.
type MismatchError struct {
	Kind    marshalling.AccusationKind
	Accuser uint32
	Record  marshalling.BlameRecord
	Local   bool
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("commitment mismatch (kind %d) raised by %d against %d at slot %d slice %d",
		e.Kind, e.Accuser, e.Record.Suspect, e.Record.Slot, e.Record.Slice)
}

func (e *MismatchError) Unwrap() error {
	return ErrAborted
}

// Accusation returns the accusation this mismatch supports
func (e *MismatchError) Accusation() marshalling.Accusation {
	return marshalling.Accusation{
		Kind:    e.Kind,
		Accuser: e.Accuser,
		Record:  e.Record,
	}
}
