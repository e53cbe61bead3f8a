// Package imageref derives container image references for workloads.
package imageref

import (
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
)

const (
	// ManualReference marks a deployment that is not tied to a specific commit.
	ManualReference = "manual"
	// LatestTag is used whenever a reference cannot be shortened to a commit tag.
	LatestTag = "latest"

	rollbackPrefix = "ROLLBACK-"
	shortLength    = 7
)

// Tag returns the image tag for a commit reference: its first seven characters,
// or "latest" for the manual sentinel and references shorter than seven characters.
// Rollback references resolve to the tag of the reference they rolled back to.
func Tag(reference string) string {
	reference = strings.TrimPrefix(strings.TrimSpace(reference), rollbackPrefix)
	if reference == "" || reference == ManualReference || len(reference) < shortLength {
		return LatestTag
	}
	return reference[:shortLength]
}

// Repository returns "<namespace>/<lowercased name>".
func Repository(namespace, workloadName string) string {
	return strings.Trim(namespace, "/") + "/" + strings.ToLower(workloadName)
}

// For builds and validates the full image reference for a workload at reference.
func For(namespace, workloadName, reference string) (string, error) {
	ref := Repository(namespace, workloadName) + ":" + Tag(reference)
	if _, err := name.NewTag(ref, name.WeakValidation); err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", ref, err)
	}
	return ref, nil
}

// RollbackReference returns the synthetic reference recorded for a rollback to target.
func RollbackReference(target string) string {
	short := strings.TrimPrefix(target, rollbackPrefix)
	if len(short) > shortLength {
		short = short[:shortLength]
	}
	return rollbackPrefix + short
}

// IsRollback reports whether reference was produced by RollbackReference.
func IsRollback(reference string) bool {
	return strings.HasPrefix(reference, rollbackPrefix)
}
