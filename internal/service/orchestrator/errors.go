package orchestrator

import "errors"

// Kind classifies why a run failed.
type Kind string

const (
	KindNone    Kind = ""
	KindFetch   Kind = "fetch"
	KindBuild   Kind = "build"
	KindCluster Kind = "cluster"
	KindFatal   Kind = "fatal"
)

// FetchError reports a failure producing the working copy.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return e.Err.Error() }
func (e *FetchError) Unwrap() error { return e.Err }

// BuildError reports a failed image build together with whatever output was captured.
type BuildError struct {
	Output string
	Err    error
}

func (e *BuildError) Error() string { return e.Err.Error() }
func (e *BuildError) Unwrap() error { return e.Err }

// ClusterError reports a failure talking to the cluster API.
type ClusterError struct {
	Err error
}

func (e *ClusterError) Error() string { return e.Err.Error() }
func (e *ClusterError) Unwrap() error { return e.Err }

// FatalError covers anything else, including store failures and recovered panics.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Classify returns the failure kind of err.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var (
		fetchErr   *FetchError
		buildErr   *BuildError
		clusterErr *ClusterError
	)
	switch {
	case errors.As(err, &fetchErr):
		return KindFetch
	case errors.As(err, &buildErr):
		return KindBuild
	case errors.As(err, &clusterErr):
		return KindCluster
	default:
		return KindFatal
	}
}
