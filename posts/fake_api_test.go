package posts

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

	jsonclient "github.com/always-cache/postview/pkg/json-client"
	"github.com/go-chi/chi/v5"
)

// fakeAPI mimics the demo posts API and counts the calls it receives.
type fakeAPI struct {
	*httptest.Server

	mutex     sync.Mutex
	posts     []Post
	listCalls int
	getCalls  int
	postCalls int
	failList  bool
	rawList   string
}

func newFakeAPI(t *testing.T, count int) *fakeAPI {
	t.Helper()
	api := &fakeAPI{}
	for i := 1; i <= count; i++ {
		api.posts = append(api.posts, Post{ID: i, UserID: 1, Title: fmt.Sprintf("title %d", i), Body: fmt.Sprintf("body %d", i)})
	}

	r := chi.NewRouter()
	r.Get("/posts", func(w http.ResponseWriter, r *http.Request) {
		api.mutex.Lock()
		defer api.mutex.Unlock()
		api.listCalls++
		if api.failList {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if api.rawList != "" {
			w.Write([]byte(api.rawList))
			return
		}
		list := api.posts
		if limit, err := strconv.Atoi(r.URL.Query().Get("_limit")); err == nil && limit < len(list) {
			list = list[:limit]
		}
		json.NewEncoder(w).Encode(list)
	})
	r.Get("/posts/{id}", func(w http.ResponseWriter, r *http.Request) {
		api.mutex.Lock()
		defer api.mutex.Unlock()
		api.getCalls++
		id, _ := strconv.Atoi(chi.URLParam(r, "id"))
		for _, p := range api.posts {
			if p.ID == id {
				json.NewEncoder(w).Encode(p)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("{}"))
	})
	r.Post("/posts", func(w http.ResponseWriter, r *http.Request) {
		api.mutex.Lock()
		defer api.mutex.Unlock()
		api.postCalls++
		var draft Draft
		if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// like the demo API, the post is echoed but not stored
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Post{ID: 101, UserID: draft.UserID, Title: draft.Title, Body: draft.Body})
	})

	api.Server = httptest.NewServer(r)
	t.Cleanup(api.Server.Close)
	return api
}

func (a *fakeAPI) calls() (list, get, post int) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.listCalls, a.getCalls, a.postCalls
}

func (a *fakeAPI) endpoints() Endpoints {
	return Endpoints{Base: a.URL}
}

func (a *fakeAPI) client() *jsonclient.Client {
	return jsonclient.New(jsonclient.Config{})
}

// blockingFetcher serves any post instantly, except the post with id blockID,
// which waits for release and then succeeds regardless of cancellation.
type blockingFetcher struct {
	blockID int
	started chan struct{}
	release chan struct{}
}

func newBlockingFetcher(blockID int) *blockingFetcher {
	return &blockingFetcher{
		blockID: blockID,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (f *blockingFetcher) GetJSON(ctx context.Context, url string, out any) error {
	id, err := strconv.Atoi(url[strings.LastIndex(url, "/")+1:])
	if err != nil {
		return err
	}
	if id == f.blockID {
		close(f.started)
		<-f.release
	}
	*out.(*Post) = Post{ID: id, Title: fmt.Sprintf("title %d", id)}
	return nil
}

func (f *blockingFetcher) PostJSON(ctx context.Context, url string, payload any, out any) error {
	return fmt.Errorf("not supported")
}
