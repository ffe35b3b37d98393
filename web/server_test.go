package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/always-cache/postview/cache"
	"github.com/always-cache/postview/posts"
	jsonclient "github.com/always-cache/postview/pkg/json-client"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type upstream struct {
	mutex     sync.Mutex
	listCalls int
	failList  bool
}

func newUpstream(t *testing.T) (*upstream, *httptest.Server) {
	t.Helper()
	u := &upstream{}
	r := chi.NewRouter()
	r.Get("/posts", func(w http.ResponseWriter, r *http.Request) {
		u.mutex.Lock()
		u.listCalls++
		fail := u.failList
		u.mutex.Unlock()
		if fail {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("_limit"))
		list := make([]posts.Post, 0, limit)
		for i := 1; i <= limit; i++ {
			list = append(list, posts.Post{ID: i, UserID: 1, Title: fmt.Sprintf("title %d", i)})
		}
		json.NewEncoder(w).Encode(list)
	})
	r.Get("/posts/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(chi.URLParam(r, "id"))
		if id > 100 {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("{}"))
			return
		}
		json.NewEncoder(w).Encode(posts.Post{ID: id, UserID: 1, Title: fmt.Sprintf("title %d", id)})
	})
	r.Post("/posts", func(w http.ResponseWriter, r *http.Request) {
		var draft posts.Draft
		json.NewDecoder(r.Body).Decode(&draft)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(posts.Post{ID: 101, UserID: draft.UserID, Title: draft.Title, Body: draft.Body})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return u, srv
}

func (u *upstream) calls() int {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.listCalls
}

func newTestServer(t *testing.T) (*upstream, http.Handler) {
	t.Helper()
	u, srv := newUpstream(t)
	client := jsonclient.New(jsonclient.Config{})
	endpoints := posts.Endpoints{Base: srv.URL}
	detail := posts.NewDetailView(posts.NewDetailFetcher(posts.DetailConfig{Fetcher: client, Endpoints: endpoints}))
	t.Cleanup(detail.Close)
	store := posts.NewStore(posts.StoreConfig{
		Fetcher:   client,
		Cache:     cache.NewMemCache(),
		Endpoints: endpoints,
		OnCreated: detail.Show,
	})
	logger := zerolog.Nop()
	return u, New(Config{
		Store:  store,
		List:   posts.NewListView(store),
		Detail: detail,
		Logger: &logger,
	}).Handler()
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body)).WithContext(context.Background())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("Could not decode response: %v", err)
	}
	return v
}

func TestListIsLoadedOnce(t *testing.T) {
	u, h := newTestServer(t)

	rr := do(h, "GET", "/posts", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Status is %d", rr.Code)
	}
	if cs := rr.Header().Get("Cache-Status"); cs != "Postview; fwd=uri-miss" {
		t.Fatalf("Cache-Status is %s", cs)
	}
	res := decode[listResponse](t, rr)
	if res.State != posts.Ready || len(res.Posts) != posts.DefaultPageSize {
		t.Fatalf("Response is %+v", res)
	}

	rr = do(h, "GET", "/posts", "")
	if cs := rr.Header().Get("Cache-Status"); cs != "Postview; hit; detail=memory" {
		t.Fatalf("Cache-Status is %s", cs)
	}
	rr = do(h, "GET", "/posts?reload=1", "")
	if cs := rr.Header().Get("Cache-Status"); cs != "Postview; hit" {
		t.Fatalf("Cache-Status is %s", cs)
	}
	if calls := u.calls(); calls != 1 {
		t.Fatalf("Upstream list called %d times", calls)
	}
}

func TestListFailure(t *testing.T) {
	u, h := newTestServer(t)
	u.failList = true

	rr := do(h, "GET", "/posts", "")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("Status is %d", rr.Code)
	}
	res := decode[listResponse](t, rr)
	if res.State != posts.Failed || res.Error == "" || len(res.Posts) != 0 {
		t.Fatalf("Response is %+v", res)
	}

	// failed stays failed until an explicit reload
	do(h, "GET", "/posts", "")
	if calls := u.calls(); calls != 1 {
		t.Fatalf("Upstream list called %d times", calls)
	}
	u.mutex.Lock()
	u.failList = false
	u.mutex.Unlock()
	if rr := do(h, "GET", "/posts?reload=1", ""); rr.Code != http.StatusOK {
		t.Fatalf("Status after reload is %d", rr.Code)
	}
}

func TestCreateValidation(t *testing.T) {
	_, h := newTestServer(t)

	rr := do(h, "POST", "/posts", `{"title":"","body":"x"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Status is %d", rr.Code)
	}
	res := decode[errorResponse](t, rr)
	if len(res.Fields) != 1 || res.Fields[0] != "title" {
		t.Fatalf("Response is %+v", res)
	}

	if rr := do(h, "POST", "/posts", `not json`); rr.Code != http.StatusBadRequest {
		t.Fatalf("Status for bad JSON is %d", rr.Code)
	}
}

func TestCreateSelectsAndPrepends(t *testing.T) {
	_, h := newTestServer(t)
	do(h, "GET", "/posts", "")

	rr := do(h, "POST", "/posts", `{"userId":1,"title":"T","body":"B"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Status is %d", rr.Code)
	}
	if created := decode[posts.Post](t, rr); created.ID != 101 {
		t.Fatalf("Created %+v", created)
	}

	list := decode[listResponse](t, do(h, "GET", "/posts", ""))
	if len(list.Posts) != posts.DefaultPageSize+1 || list.Posts[0].ID != 101 {
		t.Fatalf("List is %+v", list)
	}
	selected := decode[detailResponse](t, do(h, "GET", "/selected", ""))
	if selected.State != posts.Ready || selected.Post == nil || selected.Post.ID != 101 {
		t.Fatalf("Selected is %+v", selected)
	}
}

func TestSelectCreatedPostNotFound(t *testing.T) {
	_, h := newTestServer(t)
	do(h, "POST", "/posts", `{"userId":1,"title":"T","body":"B"}`)

	// the demo API does not persist created posts
	rr := do(h, "GET", "/posts/101", "")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("Status is %d", rr.Code)
	}
	res := decode[detailResponse](t, rr)
	if res.State != posts.Failed || res.UpstreamStatus != http.StatusNotFound {
		t.Fatalf("Response is %+v", res)
	}
	if res.Post == nil || res.Post.ID != 101 || res.Post.Title != "T" {
		t.Fatalf("Displayed post changed to %+v", res.Post)
	}
}

func TestSelectPost(t *testing.T) {
	_, h := newTestServer(t)

	rr := do(h, "GET", "/posts/3", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Status is %d", rr.Code)
	}
	if res := decode[detailResponse](t, rr); res.Post == nil || res.Post.ID != 3 {
		t.Fatalf("Response is %+v", res)
	}
	if rr := do(h, "GET", "/posts/abc", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("Status for invalid id is %d", rr.Code)
	}
}

func TestInvalidateCache(t *testing.T) {
	u, h := newTestServer(t)
	do(h, "GET", "/posts", "")

	if rr := do(h, "DELETE", "/cache", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("Status is %d", rr.Code)
	}
	do(h, "GET", "/posts?reload=1", "")
	if calls := u.calls(); calls != 2 {
		t.Fatalf("Upstream list called %d times", calls)
	}
}

// slowFetcher serves any post instantly, except the post with id blockID,
// which waits until its request is canceled.
type slowFetcher struct {
	blockID int
	started chan struct{}
}

func (f *slowFetcher) GetJSON(ctx context.Context, url string, out any) error {
	id, err := strconv.Atoi(url[strings.LastIndex(url, "/")+1:])
	if err != nil {
		return err
	}
	if id == f.blockID {
		close(f.started)
		<-ctx.Done()
		return fmt.Errorf("%w: %w", jsonclient.ErrCanceled, context.Cause(ctx))
	}
	*out.(*posts.Post) = posts.Post{ID: id, Title: fmt.Sprintf("title %d", id)}
	return nil
}

func (f *slowFetcher) PostJSON(ctx context.Context, url string, payload any, out any) error {
	return fmt.Errorf("not supported")
}

func newSlowServer(t *testing.T, blockID int) (*slowFetcher, http.Handler) {
	t.Helper()
	f := &slowFetcher{blockID: blockID, started: make(chan struct{})}
	detail := posts.NewDetailView(posts.NewDetailFetcher(posts.DetailConfig{Fetcher: f}))
	t.Cleanup(detail.Close)
	store := posts.NewStore(posts.StoreConfig{Fetcher: f, Cache: cache.NewMemCache()})
	logger := zerolog.Nop()
	return f, New(Config{
		Store:  store,
		List:   posts.NewListView(store),
		Detail: detail,
		Logger: &logger,
	}).Handler()
}

func TestSelectSuperseded(t *testing.T) {
	f, h := newSlowServer(t, 2)

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- do(h, "GET", "/posts/2", "")
	}()
	<-f.started

	if rr := do(h, "GET", "/posts/3", ""); rr.Code != http.StatusOK {
		t.Fatalf("Status of second selection is %d", rr.Code)
	}
	rr := <-first
	if rr.Code != http.StatusConflict {
		t.Fatalf("Status of superseded selection is %d", rr.Code)
	}
	selected := decode[detailResponse](t, do(h, "GET", "/selected", ""))
	if selected.State != posts.Ready || selected.Post == nil || selected.Post.ID != 3 {
		t.Fatalf("Selected is %+v", selected)
	}
}

func TestSelectClientGone(t *testing.T) {
	f, h := newSlowServer(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/posts/2", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rr, req)
		close(done)
	}()
	<-f.started
	cancel()
	<-done

	if rr.Body.Len() != 0 {
		t.Fatalf("Body written after client went away: %s", rr.Body)
	}
	selected := decode[detailResponse](t, do(h, "GET", "/selected", ""))
	if selected.State != posts.Idle || selected.Post != nil || selected.Error != "" {
		t.Fatalf("Selected is %+v", selected)
	}
}
