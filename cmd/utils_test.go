package cmd

import (
	"testing"

	"github.com/hoardr-dl/hoardr/internal/config"
)

func TestParseJobArg(t *testing.T) {
	tests := []struct {
		name     string
		arg      string
		wantSrc  string
		wantTags []string
		wantURLs []string
		wantErr  bool
	}{
		{"comma tags", "rule34:tag1,tag2", "rule34", []string{"tag1", "tag2"}, nil, false},
		{"space tags", "e621:canine rating:s", "e621", []string{"canine", "rating:s"}, nil, false},
		{"single tag", "e926:wolf", "e926", []string{"wolf"}, nil, false},
		{"bare url", "https://example.com/file.png", "direct", nil, []string{"https://example.com/file.png"}, false},
		{"http url", "http://example.com/a", "direct", nil, []string{"http://example.com/a"}, false},
		{"empty", "", "", nil, nil, true},
		{"no colon", "rule34", "", nil, nil, true},
		{"empty tags", "rule34:", "", nil, nil, true},
		{"leading colon", ":tags", "", nil, nil, true},
		{"only separators", "rule34:, ,", "", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, query, err := ParseJobArg(tt.arg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseJobArg(%q) expected error, got %q %+v", tt.arg, src, query)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if src != tt.wantSrc {
				t.Errorf("source = %q, want %q", src, tt.wantSrc)
			}
			if len(query.Tags) != len(tt.wantTags) {
				t.Fatalf("tags = %v, want %v", query.Tags, tt.wantTags)
			}
			for i := range tt.wantTags {
				if query.Tags[i] != tt.wantTags[i] {
					t.Errorf("tags = %v, want %v", query.Tags, tt.wantTags)
				}
			}
			if len(query.URLs) != len(tt.wantURLs) {
				t.Fatalf("urls = %v, want %v", query.URLs, tt.wantURLs)
			}
			for i := range tt.wantURLs {
				if query.URLs[i] != tt.wantURLs[i] {
					t.Errorf("urls = %v, want %v", query.URLs, tt.wantURLs)
				}
			}
		})
	}
}

func TestBuiltinRegistry(t *testing.T) {
	reg := builtinRegistry(config.DefaultSettings())

	for _, name := range []string{"rule34", "e621", "e926", "e6ai", "direct"} {
		if _, err := reg.Get(name); err != nil {
			t.Errorf("built-in source %q not registered: %v", name, err)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("short input should pass through, got %q", got)
	}
}
