package streamparser

import "fmt"

// seqString zero-pads seq so that lexicographic key ordering (which
// the store guarantees) matches numeric ordering, letting ListKeys
// under an events/{sid}/ prefix return events in seq order directly.
func seqString(seq int64) string {
	return fmt.Sprintf("%012d", seq)
}
