// Package billing records usage surcharges for assembled episodes against
// the credit-ledger collaborator, at most once per job and charge kind.
package billing

import (
	"fmt"

	"github.com/google/uuid"
)

// ChargeKindOverageMinutes is the charge recorded when an assembled episode
// exceeds the plan's included processing minutes.
const ChargeKindOverageMinutes = "processing_overage_minutes"

// correlationNamespace seeds the deterministic correlation ids. Changing it
// would re-open every historical charge to duplication; never rotate it.
var correlationNamespace = uuid.MustParse("9a1c8a44-52d1-4a3b-9c87-4f10c31d6e02")

// CorrelationID derives the idempotency key for a (job, charge kind) pair.
// The same pair always yields the same id, so a retried job can never insert
// a second ledger entry for the same physical charge.
func CorrelationID(jobID int64, chargeKind string) string {
	name := fmt.Sprintf("job:%d:%s", jobID, chargeKind)
	return uuid.NewSHA1(correlationNamespace, []byte(name)).String()
}
