package domain

// Profile is a user or community referenced by conversations and messages.
// Communities are stored under their negated id so a message sender id
// always resolves through one map.
type Profile struct {
	ID        int64
	Name      string
	FirstName string
	LastName  string
	Photo     string
	Group     bool

	Deactivated bool

	Online       bool
	OnlineMobile bool
	OnlineApp    int64

	LastSeenAt       int64
	LastSeenPlatform int
}

// ProfilePatch is a partial presence update from the poll stream.
type ProfilePatch struct {
	ID int64

	Online       *bool
	OnlineMobile *bool
	OnlineApp    *int64

	LastSeenAt       *int64
	LastSeenPlatform *int
}

// Apply folds the patch into a profile.
func (p *ProfilePatch) Apply(pr *Profile) {
	if p.Online != nil {
		pr.Online = *p.Online
	}
	if p.OnlineMobile != nil {
		pr.OnlineMobile = *p.OnlineMobile
	}
	if p.OnlineApp != nil {
		pr.OnlineApp = *p.OnlineApp
	}
	if p.LastSeenAt != nil {
		pr.LastSeenAt = *p.LastSeenAt
	}
	if p.LastSeenPlatform != nil {
		pr.LastSeenPlatform = *p.LastSeenPlatform
	}
}
