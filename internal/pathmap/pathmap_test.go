// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package pathmap

import "testing"

func TestMapper_Map(t *testing.T) {
	tests := []struct {
		name     string
		mappings []Mapping
		in       string
		want     string
	}{
		{
			name:     "no mappings passthrough",
			mappings: nil,
			in:       "/media/tv/show.mkv",
			want:     "/media/tv/show.mkv",
		},
		{
			name:     "simple prefix replacement",
			mappings: []Mapping{{From: "/media", To: "/mnt/plex"}},
			in:       "/media/tv/show.mkv",
			want:     "/mnt/plex/tv/show.mkv",
		},
		{
			name: "first matching prefix wins",
			mappings: []Mapping{
				{From: "/media/tv", To: "/tv"},
				{From: "/media", To: "/mnt"},
			},
			in:   "/media/tv/show.mkv",
			want: "/tv/show.mkv",
		},
		{
			name:     "no match passthrough",
			mappings: []Mapping{{From: "D:\\Media", To: "/mnt/media"}},
			in:       "/media/tv/show.mkv",
			want:     "/media/tv/show.mkv",
		},
		{
			name:     "windows to unix",
			mappings: []Mapping{{From: "D:\\Media\\", To: "/mnt/media/"}},
			in:       "D:\\Media\\movie.mkv",
			want:     "/mnt/media/movie.mkv",
		},
		{
			name:     "empty from dropped",
			mappings: []Mapping{{From: "", To: "/mnt"}},
			in:       "/media/movie.mkv",
			want:     "/media/movie.mkv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.mappings).Map(tt.in)
			if got != tt.want {
				t.Errorf("Map(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
