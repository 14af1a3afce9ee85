package types

import "time"

// Community is a cluster of densely connected entities computed by label
// propagation, used by global retrieval for broad, thematic queries.
// Communities are rebuilt as a whole; individual memberships never change
// in place.
type Community struct {
	ID        string   `json:"id"`
	MemberIDs []string `json:"member_ids"`
	// Summary is a short textual digest of the member entities.
	Summary   string    `json:"summary,omitempty"`
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}
