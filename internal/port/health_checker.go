package port

import "context"

type HealthChecker interface {
	// Ping reports whether the backing resource is reachable
	Ping(ctx context.Context) error
}
