package posts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/always-cache/postview/cache"
	"github.com/rs/zerolog"
)

// CacheKey is the fixed key the post list is stored under.
const CacheKey = "postsDataCache"

// DefaultPageSize is the number of posts requested when the list is fetched.
const DefaultPageSize = 8

type StoreConfig struct {
	// Transport for API requests.
	Fetcher Fetcher
	// Durable storage for the list snapshot.
	Cache cache.Provider
	// API location.
	Endpoints Endpoints
	// Number of posts to request. DefaultPageSize is used if zero.
	PageSize int
	// Optional callback invoked with every successfully created post.
	OnCreated func(Post)
	// Logger to use. Logging is disabled if nil.
	Logger *zerolog.Logger
}

// Store is a read-through cache of the post list.
// The cache entry is a snapshot of the last fully known list: it is written
// wholesale after a successful fetch or create, and never expires.
type Store struct {
	fetcher   Fetcher
	cache     cache.Provider
	endpoints Endpoints
	pageSize  int
	onCreated func(Post)
	log       zerolog.Logger

	mutex  sync.Mutex
	posts  []Post
	loaded bool
}

func NewStore(config StoreConfig) *Store {
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "store").Logger()
	}
	pageSize := config.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Store{
		fetcher:   config.Fetcher,
		cache:     config.Cache,
		endpoints: config.Endpoints,
		pageSize:  pageSize,
		onCreated: config.OnCreated,
		log:       logger,
	}
}

// Load returns the cached list if present, without any network call.
// On a miss it fetches the list and stores it before returning.
// Nothing is stored if the fetch fails.
func (s *Store) Load(ctx context.Context) ([]Post, error) {
	posts, _, err := s.LoadWithStatus(ctx)
	return posts, err
}

// LoadWithStatus is Load, additionally reporting whether the list was served from the cache.
func (s *Store) LoadWithStatus(ctx context.Context) ([]Post, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) ([]Post, bool, error) {
	if posts, ok := s.readCache(ctx); ok {
		s.log.Trace().Int("count", len(posts)).Msg("Cache hit")
		s.posts = posts
		s.loaded = true
		return clonePosts(posts), true, nil
	}

	url := s.endpoints.List(s.pageSize)
	s.log.Debug().Str("url", url).Msg("Cache miss, fetching list")
	var posts []Post
	if err := s.fetcher.GetJSON(ctx, url, &posts); err != nil {
		return nil, false, fmt.Errorf("load posts: %w", err)
	}
	if posts == nil {
		posts = []Post{}
	}
	if err := s.writeCache(ctx, posts); err != nil {
		return nil, false, err
	}
	s.posts = posts
	s.loaded = true
	return clonePosts(posts), false, nil
}

// Add validates and creates a post, then prepends it to the list and
// overwrites the cache entry with the whole updated list.
// If the list is not loaded yet it is loaded first, so the cache entry
// never holds anything but a full list. Nothing is created if that fails.
func (s *Store) Add(ctx context.Context, draft Draft) (Post, error) {
	if err := draft.Validate(); err != nil {
		return Post{}, err
	}

	s.mutex.Lock()
	if !s.loaded {
		if _, _, err := s.loadLocked(ctx); err != nil {
			s.mutex.Unlock()
			return Post{}, fmt.Errorf("create post: %w", err)
		}
	}

	var created Post
	if err := s.fetcher.PostJSON(ctx, s.endpoints.Create(), draft, &created); err != nil {
		s.mutex.Unlock()
		return Post{}, fmt.Errorf("create post: %w", err)
	}

	updated := make([]Post, 0, len(s.posts)+1)
	updated = append(updated, created)
	updated = append(updated, s.posts...)
	if err := s.writeCache(ctx, updated); err != nil {
		s.mutex.Unlock()
		return Post{}, err
	}
	s.posts = updated
	s.mutex.Unlock()

	s.log.Debug().Int("id", created.ID).Int("count", len(updated)).Msg("Post created")
	if s.onCreated != nil {
		s.onCreated(created)
	}
	return created, nil
}

// Posts returns a copy of the list currently held in memory.
func (s *Store) Posts() []Post {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return clonePosts(s.posts)
}

// Invalidate removes the cache entry and forgets the in-memory list,
// so that the next Load fetches from the API.
func (s *Store) Invalidate(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.cache.Purge(ctx, CacheKey); err != nil {
		return fmt.Errorf("purge cache: %w", err)
	}
	s.posts = nil
	s.loaded = false
	s.log.Debug().Msg("Cache invalidated")
	return nil
}

// readCache returns the stored list, if any.
// Unreadable or corrupt entries count as a miss; corrupt entries are purged.
func (s *Store) readCache(ctx context.Context) ([]Post, bool) {
	raw, ok, err := s.cache.Get(ctx, CacheKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", CacheKey).Msg("Could not read from cache")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var posts []Post
	if err := json.Unmarshal(raw, &posts); err != nil {
		// in case we have a corrupted cache entry, we delete it and fetch again
		s.log.Error().Err(err).Str("key", CacheKey).Msg("Corrupt cache entry")
		if err := s.cache.Purge(ctx, CacheKey); err != nil {
			s.log.Error().Err(err).Str("key", CacheKey).Msg("Could not purge cache entry")
		}
		return nil, false
	}
	if posts == nil {
		posts = []Post{}
	}
	return posts, true
}

func (s *Store) writeCache(ctx context.Context, posts []Post) error {
	raw, err := json.Marshal(posts)
	if err != nil {
		return fmt.Errorf("encode posts: %w", err)
	}
	if err := s.cache.Put(ctx, CacheKey, raw); err != nil {
		s.log.Error().Err(err).Str("key", CacheKey).Msg("Could not write to cache")
		return fmt.Errorf("write cache: %w", err)
	}
	s.log.Trace().Str("key", CacheKey).Int("count", len(posts)).Msg("Cache write")
	return nil
}

func clonePosts(posts []Post) []Post {
	if posts == nil {
		return nil
	}
	return append([]Post(nil), posts...)
}
