package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Header names sent by GitHub.
const (
	HeaderEvent     = "X-GitHub-Event"
	HeaderSignature = "X-Hub-Signature-256"
	EventPush       = "push"
	EventPing       = "ping"
)

const (
	signaturePrefix = "sha256="
	branchRefPrefix = "refs/heads/"
	zeroCommit      = "0000000000000000000000000000000000000000"
)

var (
	// ErrMissingSignature reports an unsigned delivery when a secret is configured.
	ErrMissingSignature = errors.New("missing webhook signature")
	// ErrInvalidSignature reports a signature that does not match the payload.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// PushEvent is the subset of a GitHub push delivery used to trigger deployments.
type PushEvent struct {
	RepoURLs []string
	Branch   string
	Commit   string
	Deleted  bool
}

// Actionable reports whether the push points at a commit that can be deployed.
func (e PushEvent) Actionable() bool {
	return !e.Deleted && e.Branch != "" && e.Commit != "" && e.Commit != zeroCommit
}

// Service validates and decodes webhook deliveries.
type Service struct {
	secret []byte
}

// New constructs a webhook service. An empty secret disables signature checks.
func New(secret string) Service {
	return Service{secret: []byte(strings.TrimSpace(secret))}
}

// ValidateSignature checks the X-Hub-Signature-256 header against payload.
func (s Service) ValidateSignature(payload []byte, provided string) error {
	if len(s.secret) == 0 {
		return nil
	}
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(provided, signaturePrefix) {
		return ErrInvalidSignature
	}
	hasher := hmac.New(sha256.New, s.secret)
	hasher.Write(payload)
	expected := signaturePrefix + hex.EncodeToString(hasher.Sum(nil))
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the header value GitHub would send for payload.
func (s Service) Sign(payload []byte) string {
	hasher := hmac.New(sha256.New, s.secret)
	hasher.Write(payload)
	return signaturePrefix + hex.EncodeToString(hasher.Sum(nil))
}

type pushPayload struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Deleted    bool   `json:"deleted"`
	Repository struct {
		CloneURL string `json:"clone_url"`
		HTMLURL  string `json:"html_url"`
		SSHURL   string `json:"ssh_url"`
	} `json:"repository"`
}

// ParsePush decodes a push delivery. Tag pushes yield an empty branch.
func ParsePush(payload []byte) (PushEvent, error) {
	var raw pushPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return PushEvent{}, fmt.Errorf("decode push payload: %w", err)
	}
	event := PushEvent{
		Commit:  strings.TrimSpace(raw.After),
		Deleted: raw.Deleted,
	}
	if strings.HasPrefix(raw.Ref, branchRefPrefix) {
		event.Branch = strings.TrimPrefix(raw.Ref, branchRefPrefix)
	}
	seen := make(map[string]struct{}, 4)
	for _, url := range []string{raw.Repository.CloneURL, raw.Repository.HTMLURL, raw.Repository.SSHURL} {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		candidates := []string{url}
		if strings.HasPrefix(url, "https://") && !strings.HasSuffix(url, ".git") {
			candidates = append(candidates, url+".git")
		}
		for _, c := range candidates {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			event.RepoURLs = append(event.RepoURLs, c)
		}
	}
	if len(event.RepoURLs) == 0 {
		return PushEvent{}, errors.New("push payload has no repository URL")
	}
	return event, nil
}
