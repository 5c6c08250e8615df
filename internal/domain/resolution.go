package domain

type ResolutionStatus string

const (
	ResolutionLocal   ResolutionStatus = "local"   // Bytes are in the content store.
	ResolutionPending ResolutionStatus = "pending" // A swarm session is fetching them.
	ResolutionMissing ResolutionStatus = "missing" // No local bytes and no descriptor known.
)

// Resolution is the outcome of resolving one file reference.
type Resolution struct {
	Status    ResolutionStatus `json:"status"`
	LocalPath string           `json:"localPath,omitempty"`
}
