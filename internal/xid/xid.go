package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a prefixed unique id, e.g. "sale-0f8fad5b-d9cb-469f-a165-70867728950e".
// The prefix makes ids self-describing in ledger rows, audit trails and logs.
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
