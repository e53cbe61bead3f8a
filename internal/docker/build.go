package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/archive"
)

// Build creates an image tagged imageRef from the Dockerfile at the root of dir.
// It returns the resolved reference and the captured build output. The output
// is also returned alongside an error so callers can record what the daemon
// printed before the failure.
func (c *Client) Build(ctx context.Context, dir, imageRef string) (string, string, error) {
	if c == nil || c.inner == nil {
		return "", "", fmt.Errorf("docker client not initialized")
	}
	if dir == "" {
		return "", "", fmt.Errorf("build directory cannot be empty")
	}
	if imageRef == "" {
		return "", "", fmt.Errorf("image reference cannot be empty")
	}
	dockerfile, err := findDockerfile(dir)
	if err != nil {
		return "", "", err
	}

	if c.buildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.buildTimeout)
		defer cancel()
	}

	buildCtx, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return "", "", fmt.Errorf("create build context: %w", err)
	}
	defer buildCtx.Close()

	opts := types.ImageBuildOptions{
		Tags:        []string{imageRef},
		Dockerfile:  dockerfile,
		Remove:      true,
		ForceRemove: true,
	}
	resp, err := c.inner.ImageBuild(ctx, buildCtx, opts)
	if err != nil {
		return "", "", fmt.Errorf("docker image build: %w", err)
	}
	defer resp.Body.Close()

	output, err := collectBuildOutput(resp.Body)
	if err != nil {
		return "", output, err
	}
	return imageRef, output, nil
}

func findDockerfile(dir string) (string, error) {
	for _, name := range []string{"Dockerfile", "dockerfile"} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err == nil && !info.IsDir() {
			return name, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("inspect %s: %w", name, err)
		}
	}
	return "", ErrNoDockerfile
}

// collectBuildOutput drains the daemon's JSON message stream into text.
func collectBuildOutput(r io.Reader) (string, error) {
	var b strings.Builder
	decoder := json.NewDecoder(r)
	for {
		var msg imageBuildMessage
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				return b.String(), nil
			}
			return b.String(), fmt.Errorf("decode build output: %w", err)
		}

		if errMsg := msg.errorMessage(); errMsg != "" {
			return b.String(), fmt.Errorf("docker build failed: %s", errMsg)
		}

		line := msg.render()
		if line == "" {
			continue
		}
		b.WriteString(line)
		if !strings.HasSuffix(line, "\n") {
			b.WriteByte('\n')
		}
	}
}

type imageBuildMessage struct {
	Stream         string                 `json:"stream"`
	Status         string                 `json:"status"`
	ID             string                 `json:"id"`
	Progress       string                 `json:"progress"`
	ProgressDetail progressDetail         `json:"progressDetail"`
	Error          string                 `json:"error"`
	ErrorDetail    imageBuildErrorDetail  `json:"errorDetail"`
	Aux            map[string]interface{} `json:"aux"`
}

type progressDetail struct {
	Current int64 `json:"current"`
	Total   int64 `json:"total"`
}

type imageBuildErrorDetail struct {
	Message string `json:"message"`
}

func (m imageBuildMessage) errorMessage() string {
	if msg := strings.TrimSpace(m.Error); msg != "" {
		return msg
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}

func (m imageBuildMessage) render() string {
	if m.Stream != "" {
		return m.Stream
	}
	if m.Status != "" {
		parts := make([]string, 0, 3)
		if id := strings.TrimSpace(m.ID); id != "" {
			parts = append(parts, id)
		}
		parts = append(parts, strings.TrimSpace(m.Status))
		progress := strings.TrimSpace(m.Progress)
		if progress == "" && m.ProgressDetail.Total > 0 {
			progress = fmt.Sprintf("%d/%d", m.ProgressDetail.Current, m.ProgressDetail.Total)
		}
		if progress != "" {
			parts = append(parts, progress)
		}
		return strings.Join(parts, " ")
	}
	if id, ok := m.Aux["ID"]; ok {
		return fmt.Sprintf("image id: %v", id)
	}
	return ""
}
