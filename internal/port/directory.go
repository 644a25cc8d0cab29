package port

import "context"

// LocationRecord is what the external location directory resolves an id to.
type LocationRecord struct {
	ID   string
	Name string
}

// LocationDirectory is the excluded location subsystem.
type LocationDirectory interface {
	// ResolveLocation returns the record for the id, or domain.ErrNotFound.
	ResolveLocation(ctx context.Context, locationID string) (*LocationRecord, error)
}

// ProjectDirectory is the excluded project/calendar subsystem.
type ProjectDirectory interface {
	// ListDaysForProject returns the project's day ids in calendar order.
	ListDaysForProject(ctx context.Context, projectID string) ([]string, error)
}

// Identity stamps ledger events with the acting user.
type Identity interface {
	CurrentActor(ctx context.Context) string
}
