package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/hoardr-dl/hoardr/internal/engine/types"
)

// booruPageLimit is the batch size requested per page from
// Gelbooru-compatible APIs.
const booruPageLimit = 100

// BooruAdapter speaks the Gelbooru-style JSON API used by rule34 and
// friends: index.php?page=dapi&s=post&q=index&json=1 with pid paging.
type BooruAdapter struct {
	name      string
	baseURL   string
	userAgent string
	pageLimit int
}

// NewBooru builds an adapter for a Gelbooru-compatible source. baseURL
// has no trailing slash, e.g. "https://api.rule34.xxx".
func NewBooru(name, baseURL, userAgent string) *BooruAdapter {
	return &BooruAdapter{
		name:      name,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		userAgent: userAgent,
		pageLimit: booruPageLimit,
	}
}

func (a *BooruAdapter) Name() string { return a.name }

// booruPost is the subset of the API's post object the engine needs.
type booruPost struct {
	ID      json.Number `json:"id"`
	FileURL string      `json:"file_url"`
	Image   string      `json:"image"`
	Tags    string      `json:"tags"`
}

func (a *BooruAdapter) pageURL(tags []string, pid int) string {
	q := url.Values{}
	q.Set("page", "dapi")
	q.Set("s", "post")
	q.Set("q", "index")
	q.Set("json", "1")
	q.Set("limit", fmt.Sprintf("%d", a.pageLimit))
	q.Set("pid", fmt.Sprintf("%d", pid))
	q.Set("tags", strings.Join(tags, " "))
	return a.baseURL + "/index.php?" + q.Encode()
}

func (a *BooruAdapter) descriptor(p booruPost) (types.Descriptor, bool) {
	if p.FileURL == "" || p.ID.String() == "" {
		return types.Descriptor{}, false
	}

	// The API's "image" field carries the original filename; fall back
	// to the URL path.
	name := p.Image
	if name == "" {
		name = path.Base(p.FileURL)
	}
	ext := strings.TrimPrefix(path.Ext(name), ".")

	return types.Descriptor{
		ID:       p.ID.String(),
		URL:      p.FileURL,
		Filename: p.ID.String() + "." + defaultExt(ext),
		Tags:     strings.Fields(p.Tags),
		Format:   strings.ToLower(ext),
	}, true
}

// Search enumerates posts page by page starting at pid 0. The sequence
// ends on an empty page or a short page. An empty batch means
// exhaustion to the caller, so a full page of only malformed posts
// advances to the next page instead of returning.
func (a *BooruAdapter) Search(query types.Query) Pager {
	var (
		mu   sync.Mutex
		pid  int
		done bool
	)
	return pagerFunc(func(ctx context.Context, client *http.Client) ([]types.Descriptor, error) {
		mu.Lock()
		defer mu.Unlock()

		for {
			if done {
				return nil, nil
			}
			if query.MaxPages > 0 && pid >= query.MaxPages {
				done = true
				return nil, nil
			}

			var posts []booruPost
			if err := fetchJSON(ctx, client, a.pageURL(query.Tags, pid), a.userAgent, nil, &posts); err != nil {
				return nil, err
			}
			pid++
			if len(posts) < a.pageLimit {
				done = true
			}

			batch := make([]types.Descriptor, 0, len(posts))
			for _, p := range posts {
				if d, ok := a.descriptor(p); ok {
					batch = append(batch, d)
				}
			}
			if len(batch) > 0 || done {
				return batch, nil
			}
		}
	})
}

// ResolveDirect is not meaningful for tag-driven boorus; post page URLs
// are not fetchable media.
func (a *BooruAdapter) ResolveDirect(ctx context.Context, client *http.Client, rawurl string) (types.Descriptor, error) {
	return types.Descriptor{}, types.ErrNotFound
}

// ResolveMedia returns the descriptor's own URL; booru search results
// already carry the final file URL.
func (a *BooruAdapter) ResolveMedia(ctx context.Context, client *http.Client, d types.Descriptor) (Media, error) {
	if d.URL == "" {
		return Media{}, types.ErrGone
	}
	return Media{FetchURL: d.URL, Filename: d.Filename}, nil
}

func defaultExt(ext string) string {
	if ext == "" {
		return "jpg"
	}
	return strings.ToLower(ext)
}

// fetchJSON GETs a URL and decodes the JSON body into out. Non-200
// statuses become *types.StatusError so the retry policy can classify
// them.
func fetchJSON(ctx context.Context, client *http.Client, rawurl, userAgent string, auth *types.Credentials, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if auth != nil && auth.Username != "" {
		req.SetBasicAuth(auth.Username, auth.APIKey)
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return &types.StatusError{Code: resp.StatusCode, URL: rawurl}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", rawurl, err)
	}
	return nil
}
