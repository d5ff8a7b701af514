// Package githubstore implements core.FileStore on top of the GitHub contents
// API. A blob's git sha is its version token; a PUT carrying a stale sha is
// rejected by GitHub, which gives us compare-and-swap per path for free.
package githubstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/ulasproject/ulas/core"
)

type Store struct {
	client  *http.Client
	baseURL string
	token   string
	owner   string
	repo    string
}

var _ core.FileStore = (*Store)(nil)

// New returns a store backed by the contents API of owner/repo.
func New(conf *core.Config, owner, repo string) *Store {
	return &Store{
		client:  &http.Client{Timeout: conf.Store.RequestTimeout},
		baseURL: strings.TrimRight(conf.Store.BaseURL, "/"),
		token:   conf.Store.Token,
		owner:   owner,
		repo:    repo,
	}
}

func (s *Store) contentsURL(path string) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", s.baseURL, s.owner, s.repo, path)
}

func (s *Store) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "token "+s.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	return s.client.Do(req)
}

type contentsResponse struct {
	Content string `json:"content"` // base64, possibly with embedded newlines
	Sha     string `json:"sha"`
}

func (s *Store) Read(ctx context.Context, path string) (core.File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.contentsURL(path), nil)
	if err != nil {
		return core.File{}, errors.Wrap(err, "building request")
	}
	resp, err := s.do(req)
	if err != nil {
		return core.File{}, &core.TransportError{Op: "read", Path: path, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return core.File{}, core.ErrFileNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return core.File{}, core.ErrStoreUnauthorized
	default:
		return core.File{}, &core.TransportError{
			Op: "read", Path: path,
			Err: errors.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var body contentsResponse
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return core.File{}, &core.TransportError{Op: "read", Path: path, Err: err}
	}
	// the API wraps base64 content at 60 columns
	content, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(body.Content, "\n", ""))
	if err != nil {
		return core.File{}, &core.TransportError{Op: "read", Path: path, Err: err}
	}
	return core.File{Path: path, Content: content, Version: body.Sha}, nil
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Sha     string `json:"sha,omitempty"`
}

type putResponse struct {
	Content contentsResponse `json:"content"`
}

func (s *Store) Write(ctx context.Context, path string, content []byte, version, message string) (string, error) {
	payload, err := json.Marshal(putRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		Sha:     version,
	})
	if err != nil {
		return "", errors.Wrap(err, "encoding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.contentsURL(path), bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.do(req)
	if err != nil {
		return "", &core.TransportError{Op: "write", Path: path, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict, http.StatusUnprocessableEntity:
		// 409 on a stale sha; 422 when no sha is supplied and the path exists
		return "", core.ErrVersionConflict
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", core.ErrStoreUnauthorized
	default:
		return "", &core.TransportError{
			Op: "write", Path: path,
			Err: errors.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var body putResponse
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &core.TransportError{Op: "write", Path: path, Err: err}
	}
	return body.Content.Sha, nil
}
