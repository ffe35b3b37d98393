package posts

import (
	"context"
	"fmt"
	"sync"

	jsonclient "github.com/always-cache/postview/pkg/json-client"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// errSuperseded is returned by a detail request whose token was replaced or canceled.
var errSuperseded = fmt.Errorf("%w: %w", jsonclient.ErrCanceled, context.Canceled)

type DetailConfig struct {
	Fetcher   Fetcher
	Endpoints Endpoints
	Logger    *zerolog.Logger
}

// DetailFetcher fetches single posts. It owns at most one cancellation token:
// starting a new request cancels the previous one, and Close cancels the current one.
type DetailFetcher struct {
	fetcher   Fetcher
	endpoints Endpoints
	log       zerolog.Logger

	mutex      sync.Mutex
	cancel     context.CancelFunc
	generation uint64
	closed     bool
}

func NewDetailFetcher(config DetailConfig) *DetailFetcher {
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "detail").Logger()
	}
	return &DetailFetcher{
		fetcher:   config.Fetcher,
		endpoints: config.Endpoints,
		log:       logger,
	}
}

// Fetch cancels any outstanding request and fetches the post with the given id.
// If this request is itself superseded before it completes, it fails with
// jsonclient.ErrCanceled even if the response arrived.
func (d *DetailFetcher) Fetch(ctx context.Context, id int) (Post, error) {
	d.mutex.Lock()
	if d.closed {
		d.mutex.Unlock()
		return Post{}, errSuperseded
	}
	if d.cancel != nil {
		d.cancel()
	}
	reqCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.generation++
	generation := d.generation
	d.mutex.Unlock()
	defer cancel()

	logger := d.log.With().Int("id", id).Str("request", uuid.NewString()).Logger()
	logger.Trace().Msg("Fetching post")

	var post Post
	err := d.fetcher.GetJSON(reqCtx, d.endpoints.Post(id), &post)

	if !d.isCurrent(generation) {
		logger.Trace().Msg("Superseded, dropping result")
		return Post{}, errSuperseded
	}
	if err != nil {
		if jsonclient.IsCanceled(err) {
			logger.Trace().Msg("Canceled")
			return Post{}, err
		}
		logger.Debug().Err(err).Msg("Could not fetch post")
		return Post{}, fmt.Errorf("fetch post %d: %w", id, err)
	}
	return post, nil
}

// Cancel cancels the outstanding request, if any.
func (d *DetailFetcher) Cancel() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.cancelLocked()
}

// Close cancels the outstanding request; later calls to Fetch fail immediately.
func (d *DetailFetcher) Close() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.cancelLocked()
	d.closed = true
}

func (d *DetailFetcher) cancelLocked() {
	d.generation++
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *DetailFetcher) isCurrent(generation uint64) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return !d.closed && generation == d.generation
}
