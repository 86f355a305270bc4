package orders

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// PENDING satu-satunya state non-terminal. FAILED tidak pernah balik hidup:
// Recover cuma benerin ledger, bukan order-nya.
var validNext = map[Status]map[Status]bool{
	StatusPending: {StatusSuccess: true, StatusFailed: true},
	StatusSuccess: {},
	StatusFailed:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}
