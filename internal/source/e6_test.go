package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/hoardr-dl/hoardr/internal/engine/types"
	"github.com/hoardr-dl/hoardr/internal/testutil"
)

func e6Posts(from, to int) []e6Post {
	var posts []e6Post
	for i := from; i < to; i++ {
		p := e6Post{ID: int64(i)}
		p.File.URL = fmt.Sprintf("https://static.example/%d.webm", i)
		p.File.Ext = "webm"
		p.File.Size = 1000 + int64(i)
		p.Tags = map[string][]string{
			"general": {"tag_a"},
			"species": {"tag_b", "tag_c"},
		}
		posts = append(posts, p)
	}
	return posts
}

func TestE6SearchPaginates(t *testing.T) {
	var sawAuth []string
	pages := map[string][]e6Post{
		"1": e6Posts(0, e6PageLimit),
		"2": e6Posts(e6PageLimit, e6PageLimit+10),
	}
	srv := testutil.NewHTTPServerT(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/posts.json" {
			t.Errorf("path = %q, want /posts.json", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if ok {
			sawAuth = append(sawAuth, user+":"+pass)
		}
		json.NewEncoder(w).Encode(e6Page{Posts: pages[r.URL.Query().Get("page")]})
	}))
	defer srv.Close()

	a := NewE6("e621", srv.URL, "ua", &types.Credentials{Username: "user", APIKey: "key"})
	pager := a.Search(types.Query{Tags: []string{"canine"}})
	ctx := context.Background()

	first, err := pager.Next(ctx, http.DefaultClient)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != e6PageLimit {
		t.Fatalf("first page = %d, want %d", len(first), e6PageLimit)
	}
	second, err := pager.Next(ctx, http.DefaultClient)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 10 {
		t.Fatalf("second page = %d, want 10", len(second))
	}
	if batch, err := pager.Next(ctx, http.DefaultClient); err != nil || batch != nil {
		t.Fatalf("exhausted pager returned (%v, %v)", batch, err)
	}

	if len(sawAuth) != 2 || sawAuth[0] != "user:key" {
		t.Errorf("basic auth not applied on every page: %v", sawAuth)
	}

	d := first[0]
	if d.ID != "0" || d.Format != "webm" || d.Size != 1000 {
		t.Errorf("descriptor = %+v", d)
	}
	if d.Filename != "0.webm" {
		t.Errorf("Filename = %q", d.Filename)
	}
	if len(d.Tags) != 3 {
		t.Errorf("Tags = %v, want flattened groups", d.Tags)
	}
}

func TestE6SearchStopsOnEmptyPage(t *testing.T) {
	requests := 0
	srv := testutil.NewHTTPServerT(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		json.NewEncoder(w).Encode(e6Page{})
	}))
	defer srv.Close()

	a := NewE6("e621", srv.URL, "ua", nil)
	pager := a.Search(types.Query{Tags: []string{"none"}})

	if batch, err := pager.Next(context.Background(), http.DefaultClient); err != nil || batch != nil {
		t.Fatalf("empty result: (%v, %v)", batch, err)
	}
	// A second Next must not hit the server again.
	pager.Next(context.Background(), http.DefaultClient)
	if requests != 1 {
		t.Errorf("requests = %d, want 1", requests)
	}
}

func TestE6SearchHonorsMaxPages(t *testing.T) {
	requests := 0
	srv := testutil.NewHTTPServerT(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		json.NewEncoder(w).Encode(e6Page{Posts: e6Posts(0, e6PageLimit)})
	}))
	defer srv.Close()

	a := NewE6("e621", srv.URL, "ua", nil)
	pager := a.Search(types.Query{Tags: []string{"t"}, MaxPages: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if batch, err := pager.Next(ctx, http.DefaultClient); err != nil || len(batch) != e6PageLimit {
			t.Fatalf("page %d: (%d, %v)", i+1, len(batch), err)
		}
	}
	if batch, err := pager.Next(ctx, http.DefaultClient); err != nil || batch != nil {
		t.Fatalf("page past MaxPages: (%v, %v)", batch, err)
	}
	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
}

func TestE6SearchSkipsFullDeletedPage(t *testing.T) {
	// Deleted posts keep their ids but carry no file URL. A full page of
	// them must not end the sequence before the next page's valid posts.
	var deleted []e6Post
	for i := 0; i < e6PageLimit; i++ {
		deleted = append(deleted, e6Post{ID: int64(i + 1)})
	}
	pages := map[string][]e6Post{
		"1": deleted,
		"2": e6Posts(1000, 1001),
	}
	requests := 0
	srv := testutil.NewHTTPServerT(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		json.NewEncoder(w).Encode(e6Page{Posts: pages[r.URL.Query().Get("page")]})
	}))
	defer srv.Close()

	a := NewE6("e621", srv.URL, "ua", nil)
	batch, err := a.Search(types.Query{Tags: []string{"t"}}).Next(context.Background(), http.DefaultClient)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 1 || batch[0].ID != "1000" {
		t.Fatalf("batch = %+v, want the valid post from page 2", batch)
	}
	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
}

func TestE6DescriptorSkipsDeletedPosts(t *testing.T) {
	a := NewE6("e621", "https://e621.net", "ua", nil)

	deleted := e6Post{ID: 42} // no file URL
	if _, ok := a.descriptor(deleted); ok {
		t.Error("post without a file URL should be dropped")
	}

	valid := e6Posts(1, 2)[0]
	d, ok := a.descriptor(valid)
	if !ok {
		t.Fatal("valid post dropped")
	}
	if d.ID != "1" {
		t.Errorf("ID = %q", d.ID)
	}
}
