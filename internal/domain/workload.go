package domain

import "time"

// Workload describes a deployable unit tracked by the orchestrator.
type Workload struct {
	ID        string
	Name      string
	RepoURL   string
	Branch    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Image is a locally built container image produced for a workload.
type Image struct {
	ID         string
	Repository string
	Tag        string
	CreatedAt  time.Time
}
