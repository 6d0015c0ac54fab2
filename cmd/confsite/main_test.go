package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRewriteDirectItemLookupArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "no args",
			in:   []string{"confsite"},
			want: []string{"confsite"},
		},
		{
			name: "direct item id first token",
			in:   []string{"confsite", "itm-abc123"},
			want: []string{"confsite", "items", "show", "itm-abc123"},
		},
		{
			name: "after value flag",
			in:   []string{"confsite", "--dir", "./site", "itm-abc123"},
			want: []string{"confsite", "--dir", "./site", "items", "show", "itm-abc123"},
		},
		{
			name: "after equals flag",
			in:   []string{"confsite", "--dir=./site", "itm-abc123"},
			want: []string{"confsite", "--dir=./site", "items", "show", "itm-abc123"},
		},
		{
			name: "after bool flag",
			in:   []string{"confsite", "--pretty", "itm-abc123"},
			want: []string{"confsite", "--pretty", "items", "show", "itm-abc123"},
		},
		{
			name: "after double dash",
			in:   []string{"confsite", "--", "itm-abc123"},
			want: []string{"confsite", "--", "items", "show", "itm-abc123"},
		},
		{
			name: "subcommand untouched",
			in:   []string{"confsite", "items", "show", "itm-abc123"},
			want: []string{"confsite", "items", "show", "itm-abc123"},
		},
		{
			name: "flag value that looks like an id",
			in:   []string{"confsite", "--actor", "itm-x", "serve"},
			want: []string{"confsite", "--actor", "itm-x", "serve"},
		},
		{
			name: "bare prefix is not an id",
			in:   []string{"confsite", "itm-"},
			want: []string{"confsite", "itm-"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if diff := cmp.Diff(tt.want, rewriteDirectItemLookupArgs(tt.in)); diff != "" {
				t.Fatalf("rewrite mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
