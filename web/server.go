package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/always-cache/postview/posts"
	jsonclient "github.com/always-cache/postview/pkg/json-client"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Store  *posts.Store
	List   *posts.ListView
	Detail *posts.DetailView
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Server renders the list and detail views as JSON.
type Server struct {
	store  *posts.Store
	list   *posts.ListView
	detail *posts.DetailView
	log    zerolog.Logger
}

func New(config Config) *Server {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	return &Server{
		store:  config.Store,
		list:   config.List,
		detail: config.Detail,
		log:    logger.With().Str("component", "web").Logger(),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.log))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("http-status", status).
			Dur("duration", duration).
			Msg("Request")
	}))

	r.Get("/posts", s.getList)
	r.Post("/posts", s.createPost)
	r.Get("/posts/{id}", s.selectPost)
	r.Get("/selected", s.getSelected)
	r.Delete("/cache", s.invalidate)
	return r
}

type listResponse struct {
	State posts.State  `json:"state"`
	Posts []posts.Post `json:"posts"`
	Error string       `json:"error,omitempty"`
}

type detailResponse struct {
	State          posts.State `json:"state"`
	Post           *posts.Post `json:"post"`
	Error          string      `json:"error,omitempty"`
	UpstreamStatus int         `json:"upstreamStatus,omitempty"`
}

type errorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

// getList loads the list on first use. Later requests only reload with ?reload=1.
func (s *Server) getList(w http.ResponseWriter, r *http.Request) {
	var cs CacheStatus
	if s.list.Snapshot().State == posts.Loading || r.URL.Query().Get("reload") != "" {
		if err := s.list.Load(r.Context()); jsonclient.IsCanceled(err) {
			return
		}
		if snap := s.list.Snapshot(); snap.State == posts.Ready && snap.FromCache {
			cs.Hit()
		} else {
			cs.Forward(CacheStatusFwdUriMiss)
		}
		w.Header().Set("Cache-Status", cs.String())
	} else if s.list.Snapshot().State == posts.Ready {
		cs.Hit()
		cs.Detail("memory")
		w.Header().Set("Cache-Status", cs.String())
	}
	snap := s.list.Snapshot()
	res := listResponse{State: snap.State, Posts: snap.Posts}
	if res.Posts == nil {
		res.Posts = []posts.Post{}
	}
	status := http.StatusOK
	if snap.Err != nil {
		res.Error = snap.Err.Error()
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

func (s *Server) selectPost(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid post id"})
		return
	}

	var cs CacheStatus
	cs.Forward(CacheStatusFwdBypass)
	w.Header().Set("Cache-Status", cs.String())

	err = s.detail.Select(r.Context(), id)
	if jsonclient.IsCanceled(err) {
		if r.Context().Err() != nil {
			// client went away
			return
		}
		hlog.FromRequest(r).Trace().Int("id", id).Msg("Selection superseded")
		writeJSON(w, http.StatusConflict, errorResponse{Error: "selection superseded"})
		return
	}
	s.writeDetail(w)
}

func (s *Server) getSelected(w http.ResponseWriter, r *http.Request) {
	s.writeDetail(w)
}

func (s *Server) writeDetail(w http.ResponseWriter) {
	snap := s.detail.Snapshot()
	res := detailResponse{State: snap.State, Post: snap.Post}
	status := http.StatusOK
	if snap.Err != nil {
		res.Error = snap.Err.Error()
		res.UpstreamStatus = jsonclient.StatusCode(snap.Err)
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

func (s *Server) createPost(w http.ResponseWriter, r *http.Request) {
	var draft posts.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	var cs CacheStatus
	cs.Forward(CacheStatusFwdMethod)
	w.Header().Set("Cache-Status", cs.String())

	created, err := s.store.Add(r.Context(), draft)
	var validationErr *posts.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, created)
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Fields: validationErr.Fields})
	case jsonclient.IsCanceled(err):
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("Could not create post")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "Failed to create post: " + err.Error()})
	}
}

func (s *Server) invalidate(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Invalidate(r.Context()); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not invalidate cache")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
