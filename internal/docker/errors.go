package docker

import "errors"

// ErrNotFound indicates the requested Docker resource was not found.
var ErrNotFound = errors.New("docker: resource not found")

// ErrNoDockerfile indicates the working copy has no build descriptor at its root.
var ErrNoDockerfile = errors.New("Dockerfile not found in project root")
