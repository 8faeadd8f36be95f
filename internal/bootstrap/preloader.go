// Package bootstrap fetches the one-shot bulk snapshot used to seed the
// UI's data caches before the socket finishes connecting. It is a latency
// optimization only: every failure path is silent and the socket path
// delivers the same data eventually.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/codefionn/deskbridge/internal/logger"
	"github.com/codefionn/deskbridge/internal/statecache"
)

// Cache keys for the snapshot's top-level slices. Live events write to the
// same keys, so the merge discipline lives entirely in statecache.
const (
	KeyProjects    = "projects"
	KeyPreferences = "preferences"
	KeyUIState     = "uiState"
)

// WorktreesKey is the cache key for a project's worktree collection
func WorktreesKey(projectID string) string {
	return "worktrees/" + projectID
}

// SessionsKey is the cache key for a worktree's session list
func SessionsKey(worktreeID string) string {
	return "sessions/" + worktreeID
}

// SessionKey is the cache key for a fully loaded session with messages
func SessionKey(sessionID string) string {
	return "session/" + sessionID
}

// Snapshot is the immutable bulk payload returned by the backend's init
// endpoint: collections keyed by owning-entity id, plus preferences and
// UI state.
type Snapshot struct {
	Projects           json.RawMessage            `json:"projects"`
	WorktreesByProject map[string]json.RawMessage `json:"worktreesByProject"`
	SessionsByWorktree map[string]json.RawMessage `json:"sessionsByWorktree"`
	ActiveSessions     map[string]json.RawMessage `json:"activeSessions"`
	Preferences        json.RawMessage            `json:"preferences"`
	UIState            json.RawMessage            `json:"uiState"`
}

// Preloader performs the bulk fetch and seeds the shared cache
type Preloader struct {
	baseURL string
	token   string
	client  *http.Client
	cache   *statecache.Store
}

// New creates a preloader writing into cache
func New(baseURL, token string, client *http.Client, cache *statecache.Store) *Preloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Preloader{baseURL: baseURL, token: token, client: client, cache: cache}
}

// Run fetches the snapshot and seeds the cache. Callers treat any error
// as non-fatal: the UI falls back to waiting on the socket path.
func (p *Preloader) Run(ctx context.Context) error {
	snap, err := p.fetch(ctx)
	if err != nil {
		logger.Debug("Bootstrap preload skipped: %v", err)
		return err
	}
	seeded := Seed(p.cache, snap)
	logger.Info("Bootstrap preload seeded %d cache entries", seeded)
	return nil
}

func (p *Preloader) fetch(ctx context.Context) (*Snapshot, error) {
	u := fmt.Sprintf("%s/api/init?token=%s", p.baseURL, url.QueryEscape(p.token))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("init endpoint returned status %d", resp.StatusCode)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

// Seed merges snap into cache and returns the number of entries that
// changed. Seeding never overwrites live (event-driven) values and
// re-seeding an identical snapshot is a no-op.
func Seed(cache *statecache.Store, snap *Snapshot) int {
	seeded := 0
	seed := func(key string, value json.RawMessage) {
		if isAbsent(value) {
			return
		}
		if cache.Seed(key, value) {
			seeded++
		}
	}

	seed(KeyProjects, snap.Projects)
	seed(KeyPreferences, snap.Preferences)
	seed(KeyUIState, snap.UIState)
	for projectID, worktrees := range snap.WorktreesByProject {
		seed(WorktreesKey(projectID), worktrees)
	}
	for worktreeID, sessions := range snap.SessionsByWorktree {
		seed(SessionsKey(worktreeID), sessions)
	}
	for sessionID, session := range snap.ActiveSessions {
		seed(SessionKey(sessionID), session)
	}
	return seeded
}

func isAbsent(value json.RawMessage) bool {
	return len(value) == 0 || string(value) == "null"
}
