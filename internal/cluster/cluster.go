// Package cluster holds deployer implementations shared by the orchestrator wiring.
package cluster

import (
	"context"
	"fmt"
)

// Unavailable is a deployer used when no cluster configuration could be loaded.
// Every call fails with the load error so attempts record why nothing was applied.
type Unavailable struct {
	Err error
}

// CreateOrUpdate always fails.
func (u Unavailable) CreateOrUpdate(context.Context, string, string) (bool, error) {
	return false, u.err()
}

// UpdateOnly always fails.
func (u Unavailable) UpdateOnly(context.Context, string, string) (bool, error) {
	return false, u.err()
}

// Ping reports the load error.
func (u Unavailable) Ping(context.Context) error {
	return u.err()
}

func (u Unavailable) err() error {
	if u.Err == nil {
		return fmt.Errorf("kubernetes cluster unavailable")
	}
	return fmt.Errorf("kubernetes cluster unavailable: %w", u.Err)
}
