package notify

import "context"

// Recipients decides which users are notified when an event does not name a
// recipient itself (task updates and completions go to administrators).
// Injected at startup so routing is explicit rather than a hardcoded ID.
type Recipients interface {
	Admins(ctx context.Context) ([]int64, error)
}

// StaticAdmins is a fixed administrator list, typically built from config.
type StaticAdmins []int64

func (s StaticAdmins) Admins(ctx context.Context) ([]int64, error) {
	return s, nil
}
