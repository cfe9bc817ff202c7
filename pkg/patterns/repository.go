package patterns

import "context"

// Repository provides read access to stored response patterns.
type Repository interface {
	// ListPatterns returns an organization's patterns ordered by priority,
	// then creation order.
	ListPatterns(ctx context.Context, organizationID string) ([]ResponsePattern, error)
}

// RepositoryFunc adapts a function to Repository.
type RepositoryFunc func(ctx context.Context, organizationID string) ([]ResponsePattern, error)

// ListPatterns calls f.
func (f RepositoryFunc) ListPatterns(ctx context.Context, organizationID string) ([]ResponsePattern, error) {
	return f(ctx, organizationID)
}

// StaticRepository serves a fixed list of patterns, filtered by
// organization.
type StaticRepository []ResponsePattern

// ListPatterns returns the patterns belonging to organizationID in list order.
func (s StaticRepository) ListPatterns(_ context.Context, organizationID string) ([]ResponsePattern, error) {
	var out []ResponsePattern
	for _, p := range s {
		if p.OrganizationID == organizationID {
			out = append(out, p)
		}
	}
	return out, nil
}
