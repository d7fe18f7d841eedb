package source

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/vfaronov/httpheader"

	"github.com/hoardr-dl/hoardr/internal/engine/types"
)

// DirectAdapter serves explicit URL sets: each URL in the query becomes
// one descriptor. Metadata comes from a Range probe so duplicate
// detection has a size to compare against.
type DirectAdapter struct {
	userAgent string
}

// NewDirect builds the direct-URL adapter.
func NewDirect(userAgent string) *DirectAdapter {
	return &DirectAdapter{userAgent: userAgent}
}

func (a *DirectAdapter) Name() string { return "direct" }

// ResolveDirect probes the URL with a one-byte Range request and builds a
// descriptor from the response headers. A 404 maps to types.ErrNotFound.
func (a *DirectAdapter) ResolveDirect(ctx context.Context, client *http.Client, rawurl string) (types.Descriptor, error) {
	parsed, err := url.Parse(rawurl)
	if err != nil || parsed.Host == "" {
		return types.Descriptor{}, fmt.Errorf("%w: bad url %q", types.ErrMalformedDescriptor, rawurl)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return types.Descriptor{}, err
	}
	req.Header.Set("Range", "bytes=0-0")
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return types.Descriptor{}, err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	var size int64
	switch resp.StatusCode {
	case http.StatusPartialContent:
		// Content-Range: bytes 0-0/TOTAL
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			if idx := strings.LastIndex(cr, "/"); idx != -1 && cr[idx+1:] != "*" {
				size, _ = strconv.ParseInt(cr[idx+1:], 10, 64)
			}
		}
	case http.StatusOK:
		size = resp.ContentLength
		if size < 0 {
			size = 0
		}
	case http.StatusNotFound, http.StatusGone:
		return types.Descriptor{}, types.ErrNotFound
	default:
		return types.Descriptor{}, &types.StatusError{Code: resp.StatusCode, URL: rawurl}
	}

	name := filenameFromResponse(parsed, resp)
	return types.Descriptor{
		ID:       urlID(rawurl),
		URL:      rawurl,
		Filename: name,
		Format:   strings.TrimPrefix(strings.ToLower(path.Ext(name)), "."),
		Size:     size,
	}, nil
}

// Search yields one page containing a descriptor per query URL. URLs that
// fail to resolve are dropped from the batch rather than failing the job.
func (a *DirectAdapter) Search(query types.Query) Pager {
	var (
		mu   sync.Mutex
		done bool
	)
	return pagerFunc(func(ctx context.Context, client *http.Client) ([]types.Descriptor, error) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return nil, nil
		}
		done = true

		batch := make([]types.Descriptor, 0, len(query.URLs))
		for _, u := range query.URLs {
			d, err := a.ResolveDirect(ctx, client, u)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			batch = append(batch, d)
		}
		return batch, nil
	})
}

func (a *DirectAdapter) ResolveMedia(ctx context.Context, client *http.Client, d types.Descriptor) (Media, error) {
	if d.URL == "" {
		return Media{}, types.ErrGone
	}
	return Media{FetchURL: d.URL, Filename: d.Filename}, nil
}

// filenameFromResponse prefers the Content-Disposition filename, then the
// URL path, then a hash-derived fallback.
func filenameFromResponse(u *url.URL, resp *http.Response) string {
	if _, fname, _ := httpheader.ContentDisposition(resp.Header); fname != "" {
		return path.Base(fname)
	}
	if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
		return base
	}
	return urlID(u.String()) + ".bin"
}

// urlID derives a stable descriptor id from a URL.
func urlID(rawurl string) string {
	sum := sha1.Sum([]byte(rawurl))
	return hex.EncodeToString(sum[:8])
}
