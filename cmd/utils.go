package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hoardr-dl/hoardr/internal/config"
	"github.com/hoardr-dl/hoardr/internal/engine/types"
	"github.com/hoardr-dl/hoardr/internal/source"
)

// ParseJobArg turns a command-line job argument into a (source, query)
// pair. Accepted forms:
//
//	rule34:tag1,tag2      tag query against a registered source
//	e621:"canine rating:s" (quoting handled by the shell)
//	https://...           bare URL, routed to the direct adapter
func ParseJobArg(arg string) (string, types.Query, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", types.Query{}, fmt.Errorf("empty job argument")
	}

	if strings.Contains(arg, "://") {
		return "direct", types.Query{URLs: []string{arg}}, nil
	}

	idx := strings.Index(arg, ":")
	if idx <= 0 || idx == len(arg)-1 {
		return "", types.Query{}, fmt.Errorf("expected <source>:<tags> or a URL, got %q", arg)
	}

	src := arg[:idx]
	raw := arg[idx+1:]
	var tags []string
	for _, t := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		if t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		return "", types.Query{}, fmt.Errorf("no tags in %q", arg)
	}
	return src, types.Query{Tags: tags}, nil
}

// builtinRegistry wires the built-in adapters with the user's settings.
func builtinRegistry(settings *config.Settings) *source.Registry {
	ua := settings.Network.UserAgent
	reg := source.NewRegistry()

	reg.Register(source.NewBooru("rule34", "https://api.rule34.xxx", ua))

	for name, base := range map[string]string{
		"e621": "https://e621.net",
		"e926": "https://e926.net",
		"e6ai": "https://e6ai.net",
	} {
		var creds *types.Credentials
		if c, ok := settings.Credentials[name]; ok && c.Username != "" {
			cc := c
			creds = &cc
		}
		reg.Register(source.NewE6(name, base, ua, creds))
	}

	reg.Register(source.NewDirect(ua))
	return reg
}

// settingsForCmd loads settings honoring the --config flag.
func settingsForCmd(cmd *cobra.Command) (*config.Settings, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.LoadSettingsFrom(path)
	}
	return config.LoadSettings()
}

// shortID trims an id for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
