package docker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/ironsupr/AutoDeployHub/internal/domain"
)

// ListImages returns local images whose repository lives under namespace.
func (c *Client) ListImages(ctx context.Context, namespace string) ([]domain.Image, error) {
	if c == nil || c.inner == nil {
		return nil, fmt.Errorf("docker client not initialized")
	}
	namespace = strings.Trim(namespace, "/")
	args := filters.NewArgs(filters.Arg("reference", namespace+"/*"))
	summaries, err := c.inner.ImageList(ctx, image.ListOptions{Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	var images []domain.Image
	for _, summary := range summaries {
		created := time.Unix(summary.Created, 0).UTC()
		for _, repoTag := range summary.RepoTags {
			repo, tag := splitRepoTag(repoTag)
			if !strings.HasPrefix(repo, namespace+"/") {
				continue
			}
			images = append(images, domain.Image{
				ID:         shortID(summary.ID),
				Repository: repo,
				Tag:        tag,
				CreatedAt:  created,
			})
		}
	}
	return images, nil
}

// RemoveImage force-removes an image by ID or reference.
func (c *Client) RemoveImage(ctx context.Context, imageID string) error {
	if c == nil || c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	if strings.TrimSpace(imageID) == "" {
		return fmt.Errorf("image id cannot be empty")
	}
	if _, err := c.inner.ImageRemove(ctx, imageID, image.RemoveOptions{Force: true, PruneChildren: true}); err != nil {
		if client.IsErrNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

func splitRepoTag(repoTag string) (string, string) {
	idx := strings.LastIndex(repoTag, ":")
	if idx < 0 || strings.Contains(repoTag[idx+1:], "/") {
		return repoTag, "latest"
	}
	return repoTag[:idx], repoTag[idx+1:]
}

func shortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
