// Package site holds presentation data shared by the public pages and the terminal UI.
package site

import (
	"strings"

	"confsite/internal/config"
)

type NavLink struct {
	Label  string
	Path   string
	Icon   Icon
	Active bool
}

// Nav resolves configured entries for the page at current. An entry is active when
// its path equals current or, except for "/", prefixes it.
func Nav(entries []config.NavEntry, current string) []NavLink {
	out := make([]NavLink, 0, len(entries))
	for _, e := range entries {
		icon, _ := ParseIcon(e.Icon)
		out = append(out, NavLink{
			Label:  e.Label,
			Path:   e.Path,
			Icon:   icon,
			Active: isActive(e.Path, current),
		})
	}
	return out
}

func isActive(path, current string) bool {
	if path == current {
		return true
	}
	if path == "/" {
		return false
	}
	return strings.HasPrefix(current, strings.TrimSuffix(path, "/")+"/")
}

// UnknownIcons lists configured icon names that fall back to IconDefault.
func UnknownIcons(entries []config.NavEntry) []string {
	var out []string
	for _, e := range entries {
		if strings.TrimSpace(e.Icon) == "" {
			continue
		}
		if _, ok := ParseIcon(e.Icon); !ok {
			out = append(out, e.Icon)
		}
	}
	return out
}
