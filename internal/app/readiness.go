package app

import (
	"context"
	"fmt"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface{ Ping(ctx context.Context) error }

// BrokerChecker reports whether the broker connection is usable.
type BrokerChecker interface{ IsClosed() bool }

// BuildReadinessChecks returns the db and queue readiness checks probed
// by /readyz.
func BuildReadinessChecks(pool Pinger, broker BrokerChecker) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	dbCheck := func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	queueCheck := func(_ context.Context) error {
		if broker == nil {
			return fmt.Errorf("broker not configured")
		}
		if broker.IsClosed() {
			return fmt.Errorf("broker connection closed")
		}
		return nil
	}
	return dbCheck, queueCheck
}
