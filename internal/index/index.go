// Package index maintains per-user conversation summaries. Summaries are
// always derived from the message store; the cache only saves recomputation
// and is invalidated synchronously by every write so a caller never reads a
// summary older than its own last operation.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/courier/internal/cache"
	"github.com/matheus3301/courier/internal/store"
	"go.uber.org/zap"
)

// DefaultTTL bounds how long a cached summary may live.
const DefaultTTL = 5 * time.Minute

// Source is the subset of the message store the index reads from.
type Source interface {
	ListUserConversations(ctx context.Context, userID string) ([]string, error)
	Summary(ctx context.Context, conversationID, viewerID string) (*store.Summary, error)
}

// Index serves ConversationSummaries through a cache.
type Index struct {
	src    Source
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger

	// inflight tracks conversations with a read-through in progress. An
	// invalidation bumps gen so the reader does not cache what it computed.
	// Entries are dropped when their last reader finishes.
	mu       sync.Mutex
	inflight map[string]*readers
}

type readers struct {
	gen   uint64
	count int
}

// New creates an index. A nil cache disables caching.
func New(src Source, c cache.Cache, ttl time.Duration, logger *zap.Logger) *Index {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{src: src, cache: c, ttl: ttl, logger: logger, inflight: make(map[string]*readers)}
}

func key(viewerID, conversationID string) string {
	return "summary:" + viewerID + ":" + conversationID
}

// Summary returns conversationID as seen by viewerID.
func (x *Index) Summary(ctx context.Context, conversationID, viewerID string) (*store.Summary, error) {
	if s, ok := x.cached(ctx, viewerID, conversationID); ok {
		return s, nil
	}
	return x.readThrough(ctx, conversationID, viewerID)
}

// Summaries returns all of userID's conversations, most recent first.
func (x *Index) Summaries(ctx context.Context, userID string) ([]store.Summary, error) {
	ids, err := x.src.ListUserConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]store.Summary, 0, len(ids))
	for _, id := range ids {
		s, err := x.Summary(ctx, id, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	store.SortSummaries(out)
	return out, nil
}

// Invalidate drops the cached summaries of conversationID for userIDs.
// Cache failures are logged; a stale entry then ages out after the TTL, so
// callers that need the fresh value should use Refresh.
func (x *Index) Invalidate(ctx context.Context, conversationID string, userIDs ...string) {
	if x.cache == nil || len(userIDs) == 0 {
		return
	}
	x.mu.Lock()
	if r, ok := x.inflight[conversationID]; ok {
		r.gen++
	}
	x.mu.Unlock()

	keys := make([]string, len(userIDs))
	for i, u := range userIDs {
		keys[i] = key(u, conversationID)
	}
	if _, err := x.cache.Del(ctx, keys...); err != nil {
		x.logger.Warn("summary cache invalidate failed", zap.String("conversation", conversationID), zap.Error(err))
	}
}

// Refresh recomputes the summary from the store, replaces the cached copy
// and returns it.
func (x *Index) Refresh(ctx context.Context, conversationID, viewerID string) (*store.Summary, error) {
	x.Invalidate(ctx, conversationID, viewerID)
	return x.readThrough(ctx, conversationID, viewerID)
}

func (x *Index) readThrough(ctx context.Context, conversationID, viewerID string) (*store.Summary, error) {
	r, gen := x.begin(conversationID)
	defer x.end(conversationID, r)
	s, err := x.src.Summary(ctx, conversationID, viewerID)
	if err != nil {
		return nil, err
	}
	x.store(ctx, viewerID, s, r, gen)
	return s, nil
}

func (x *Index) cached(ctx context.Context, viewerID, conversationID string) (*store.Summary, bool) {
	if x.cache == nil {
		return nil, false
	}
	raw, err := x.cache.Get(ctx, key(viewerID, conversationID))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			x.logger.Warn("summary cache read failed", zap.String("conversation", conversationID), zap.Error(err))
		}
		return nil, false
	}
	var s store.Summary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		x.logger.Warn("discarding corrupt cached summary", zap.String("conversation", conversationID), zap.Error(err))
		_, _ = x.cache.Del(ctx, key(viewerID, conversationID))
		return nil, false
	}
	return &s, true
}

func (x *Index) begin(conversationID string) (*readers, uint64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	r, ok := x.inflight[conversationID]
	if !ok {
		r = &readers{}
		x.inflight[conversationID] = r
	}
	r.count++
	return r, r.gen
}

func (x *Index) end(conversationID string, r *readers) {
	x.mu.Lock()
	defer x.mu.Unlock()
	r.count--
	if r.count == 0 {
		delete(x.inflight, conversationID)
	}
}

func (x *Index) current(r *readers) uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return r.gen
}

// store caches s if its conversation was not invalidated since gen was read.
// The second check covers an invalidation that lands between the first
// check and the Set: the writer bumped the generation before deleting, so
// either its delete removes our entry or we observe the bump and remove it.
func (x *Index) store(ctx context.Context, viewerID string, s *store.Summary, r *readers, gen uint64) {
	if x.cache == nil || x.current(r) != gen {
		return
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	k := key(viewerID, s.ConversationID)
	if err := x.cache.Set(ctx, k, string(raw), x.ttl); err != nil {
		x.logger.Warn("summary cache write failed", zap.String("conversation", s.ConversationID), zap.Error(err))
		return
	}
	if x.current(r) != gen {
		_, _ = x.cache.Del(ctx, k)
	}
}

// pending returns how many conversations have a read-through in progress.
func (x *Index) pending() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.inflight)
}
