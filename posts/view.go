package posts

import (
	"context"
	"fmt"
	"sync"

	jsonclient "github.com/always-cache/postview/pkg/json-client"
)

// State is the loading state of a view.
type State int

const (
	Idle State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, state := range []State{Idle, Loading, Ready, Failed} {
		if state.String() == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// ListSnapshot is a point-in-time copy of a ListView.
type ListSnapshot struct {
	State State
	Posts []Post
	Err   error
	// Whether the last successful load was served from the cache.
	FromCache bool
}

// ListView tracks the list state: loading, then ready or failed.
// Only Load moves it back to loading.
type ListView struct {
	store *Store

	mutex     sync.Mutex
	state     State
	err       error
	fromCache bool
}

func NewListView(store *Store) *ListView {
	return &ListView{store: store, state: Loading}
}

// Load loads the list through the store and records the outcome.
// A canceled load leaves the view as it was.
func (v *ListView) Load(ctx context.Context) error {
	v.mutex.Lock()
	prevState, prevErr := v.state, v.err
	v.state = Loading
	v.err = nil
	v.mutex.Unlock()

	_, hit, err := v.store.LoadWithStatus(ctx)

	v.mutex.Lock()
	defer v.mutex.Unlock()
	switch {
	case err == nil:
		v.state = Ready
		v.fromCache = hit
	case jsonclient.IsCanceled(err):
		v.state, v.err = prevState, prevErr
	default:
		v.state = Failed
		v.err = err
	}
	return err
}

// Snapshot returns the current state. Posts are read from the store,
// so locally created posts show up without reloading.
func (v *ListView) Snapshot() ListSnapshot {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	snap := ListSnapshot{State: v.state, Err: v.err, FromCache: v.fromCache}
	if v.state == Ready {
		snap.Posts = v.store.Posts()
	}
	return snap
}

// DetailSnapshot is a point-in-time copy of a DetailView.
type DetailSnapshot struct {
	State State
	Post  *Post
	Err   error
}

// DetailView tracks the selected post: idle, loading, then ready or failed.
// Results of canceled or superseded requests are never shown, and a failed
// request keeps the previously shown post.
type DetailView struct {
	fetcher *DetailFetcher

	mutex      sync.Mutex
	state      State
	post       *Post
	err        error
	generation uint64
}

func NewDetailView(fetcher *DetailFetcher) *DetailView {
	return &DetailView{fetcher: fetcher, state: Idle}
}

// Select requests the post with the given id and waits for the outcome.
func (v *DetailView) Select(ctx context.Context, id int) error {
	v.mutex.Lock()
	v.generation++
	generation := v.generation
	v.state = Loading
	v.err = nil
	v.mutex.Unlock()

	post, err := v.fetcher.Fetch(ctx, id)

	v.mutex.Lock()
	defer v.mutex.Unlock()
	if generation != v.generation {
		return errSuperseded
	}
	switch {
	case err == nil:
		v.state = Ready
		v.post = &post
	case jsonclient.IsCanceled(err):
		v.state = v.restingState()
	default:
		v.state = Failed
		v.err = err
	}
	return err
}

// Show displays an already known post, e.g. one that was just created.
// Any outstanding request is canceled.
func (v *DetailView) Show(post Post) {
	v.fetcher.Cancel()
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.generation++
	v.state = Ready
	v.post = &post
	v.err = nil
}

// Snapshot returns the current state.
func (v *DetailView) Snapshot() DetailSnapshot {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	snap := DetailSnapshot{State: v.state, Err: v.err}
	if v.post != nil {
		post := *v.post
		snap.Post = &post
	}
	return snap
}

// Close cancels the outstanding request. The view is unusable afterwards.
func (v *DetailView) Close() {
	v.fetcher.Close()
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.generation++
	v.state = v.restingState()
}

func (v *DetailView) restingState() State {
	if v.post != nil {
		return Ready
	}
	return Idle
}
