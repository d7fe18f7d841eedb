package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/hoardr-dl/hoardr/internal/engine/types"
)

const (
	e6PageLimit = 320
	// e6MaxPage is the API's hard pagination ceiling.
	e6MaxPage = 750
)

// E6Adapter speaks the e621-family JSON API (e621, e926, e6ai):
// /posts.json with page paging, grouped tag metadata, and optional basic
// auth credentials.
type E6Adapter struct {
	name      string
	baseURL   string
	userAgent string
	creds     *types.Credentials
	pageLimit int
}

// NewE6 builds an adapter for an e621-compatible source. creds may be nil
// for anonymous access.
func NewE6(name, baseURL, userAgent string, creds *types.Credentials) *E6Adapter {
	return &E6Adapter{
		name:      name,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		userAgent: userAgent,
		creds:     creds,
		pageLimit: e6PageLimit,
	}
}

func (a *E6Adapter) Name() string { return a.name }

type e6Post struct {
	ID   int64 `json:"id"`
	File struct {
		URL  string `json:"url"`
		Ext  string `json:"ext"`
		Size int64  `json:"size"`
	} `json:"file"`
	Tags map[string][]string `json:"tags"`
}

type e6Page struct {
	Posts   []e6Post `json:"posts"`
	Message string   `json:"message"`
}

func (a *E6Adapter) pageURL(tags []string, page int) string {
	q := url.Values{}
	q.Set("tags", strings.Join(tags, " "))
	q.Set("limit", fmt.Sprintf("%d", a.pageLimit))
	q.Set("page", fmt.Sprintf("%d", page))
	return a.baseURL + "/posts.json?" + q.Encode()
}

func (a *E6Adapter) descriptor(p e6Post) (types.Descriptor, bool) {
	// Deleted or login-gated posts have no file URL.
	if p.File.URL == "" || p.ID == 0 {
		return types.Descriptor{}, false
	}

	var tags []string
	for _, group := range p.Tags {
		tags = append(tags, group...)
	}

	id := fmt.Sprintf("%d", p.ID)
	return types.Descriptor{
		ID:       id,
		URL:      p.File.URL,
		Filename: id + "." + defaultExt(p.File.Ext),
		Tags:     tags,
		Format:   strings.ToLower(p.File.Ext),
		Size:     p.File.Size,
	}, true
}

// Search enumerates posts page by page starting at page 1, stopping on an
// empty page, a short page, the query's MaxPages, or the API's page
// ceiling.
func (a *E6Adapter) Search(query types.Query) Pager {
	var (
		mu   sync.Mutex
		page = 1
		done bool
	)
	return pagerFunc(func(ctx context.Context, client *http.Client) ([]types.Descriptor, error) {
		mu.Lock()
		defer mu.Unlock()

		for {
			if done || page > e6MaxPage {
				return nil, nil
			}
			if query.MaxPages > 0 && page > query.MaxPages {
				done = true
				return nil, nil
			}

			var body e6Page
			if err := fetchJSON(ctx, client, a.pageURL(query.Tags, page), a.userAgent, a.creds, &body); err != nil {
				return nil, err
			}
			if len(body.Posts) == 0 {
				done = true
				return nil, nil
			}
			page++
			if len(body.Posts) < a.pageLimit {
				done = true
			}

			batch := make([]types.Descriptor, 0, len(body.Posts))
			for _, p := range body.Posts {
				if d, ok := a.descriptor(p); ok {
					batch = append(batch, d)
				}
			}
			// A full page of deleted or login-gated posts is not the
			// end of the sequence; move on to the next page.
			if len(batch) > 0 || done {
				return batch, nil
			}
		}
	})
}

func (a *E6Adapter) ResolveDirect(ctx context.Context, client *http.Client, rawurl string) (types.Descriptor, error) {
	return types.Descriptor{}, types.ErrNotFound
}

func (a *E6Adapter) ResolveMedia(ctx context.Context, client *http.Client, d types.Descriptor) (Media, error) {
	if d.URL == "" {
		return Media{}, types.ErrGone
	}
	return Media{FetchURL: d.URL, Filename: d.Filename}, nil
}
