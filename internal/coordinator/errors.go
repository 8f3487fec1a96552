package coordinator

import "fmt"

// PieceHashMismatchError is returned when a downloaded piece's SHA-1
// doesn't match the hash recorded in the metainfo.
type PieceHashMismatchError struct{ Index int }

func (e *PieceHashMismatchError) Error() string {
	return fmt.Sprintf("coordinator: piece %d failed hash verification", e.Index)
}

// PieceNotAvailableError is returned when a peer is asked for a piece its
// bitfield says it doesn't have.
type PieceNotAvailableError struct{ Index int }

func (e *PieceNotAvailableError) Error() string {
	return fmt.Sprintf("coordinator: piece %d not available from this peer", e.Index)
}

// DownloadExhaustedError is returned when a piece runs out of retries
// across every peer that was tried.
type DownloadExhaustedError struct{ Index int }

func (e *DownloadExhaustedError) Error() string {
	return fmt.Sprintf("coordinator: piece %d exhausted all retries", e.Index)
}
