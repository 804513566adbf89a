package types

type ReplicaState byte

const (
	Finalized ReplicaState = iota
	UnderConstruction
	Corrupt
	Excess
)

func (s ReplicaState) String() string {
	switch s {
	case Finalized:
		return "FINALIZED"
	case UnderConstruction:
		return "UNDER_CONSTRUCTION"
	case Corrupt:
		return "CORRUPT"
	case Excess:
		return "EXCESS"
	}
	return "UNKNOWN"
}

// IsLive reports whether a replica in this state counts toward the
// block's redundancy target.
func (s ReplicaState) IsLive() bool {
	return s == Finalized || s == UnderConstruction
}
