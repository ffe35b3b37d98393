package posts

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Post is a single blog-style record as served by the API.
type Post struct {
	ID     int    `json:"id"`
	UserID int    `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Draft is the payload for creating a post.
type Draft struct {
	UserID int    `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// ValidationError is returned when a draft is missing required fields.
// No request is made in that case.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s required", strings.Join(e.Fields, " and "))
}

// Validate checks that both title and body are set.
func (d Draft) Validate() error {
	var missing []string
	if strings.TrimSpace(d.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(d.Body) == "" {
		missing = append(missing, "body")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

// Fetcher is the JSON transport used by the store and the detail fetcher.
// It is satisfied by *jsonclient.Client.
type Fetcher interface {
	GetJSON(ctx context.Context, url string, out any) error
	PostJSON(ctx context.Context, url string, payload any, out any) error
}

// Endpoints builds the API URLs relative to a base URL.
type Endpoints struct {
	Base string
}

func (e Endpoints) base() string {
	return strings.TrimSuffix(e.Base, "/")
}

// List returns the list endpoint limited to limit items.
func (e Endpoints) List(limit int) string {
	q := url.Values{}
	q.Set("_limit", strconv.Itoa(limit))
	return e.base() + "/posts?" + q.Encode()
}

// Post returns the endpoint of a single post.
func (e Endpoints) Post(id int) string {
	return e.base() + "/posts/" + strconv.Itoa(id)
}

// Create returns the endpoint posts are created on.
func (e Endpoints) Create() string {
	return e.base() + "/posts"
}
