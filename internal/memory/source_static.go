package memory

import "context"

// StaticSource serves a fixed item set per tier. It backs local development
// and tests where no memory service is running.
type StaticSource map[Tier][]Item

func (s StaticSource) Fetch(_ context.Context, _, _ string, tier Tier) ([]Item, error) {
	items := s[tier]
	out := make([]Item, len(items))
	copy(out, items)
	return out, nil
}
