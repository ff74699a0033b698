package model

// Shop is a read-only view of the catalog record; only fields this service needs.
type Shop struct {
	ID                string `json:"id"`
	SellerID          string `json:"sellerId"`
	Name              string `json:"name"`
	AudioCallsEnabled bool   `json:"audioCallsEnabled"`
	VideoCallsEnabled bool   `json:"videoCallsEnabled"`
}

// CallsEnabled reports whether the shop accepts calls of type t.
func (s *Shop) CallsEnabled(t CallType) bool {
	switch t {
	case CallTypeAudio:
		return s.AudioCallsEnabled
	case CallTypeVideo:
		return s.VideoCallsEnabled
	}
	return false
}

type UserProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
