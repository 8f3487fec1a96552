package tracker

import "fmt"

// FailureError is surfaced when the tracker's response dict carries a
// "failure reason" entry instead of a peer list.
type FailureError struct{ Reason string }

func (e *FailureError) Error() string {
	return fmt.Sprintf("tracker: announce failed: %s", e.Reason)
}

// BadResponseError is returned when the tracker's body doesn't decode as a
// dict, is missing "peers", or "peers" isn't a multiple of 6 bytes.
type BadResponseError struct{ Reason string }

func (e *BadResponseError) Error() string {
	return fmt.Sprintf("tracker: bad response: %s", e.Reason)
}
