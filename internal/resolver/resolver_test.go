package resolver_test

import (
	"context"
	"testing"
	"time"

	"github.com/tunegrab/tunegrab/internal/config"
	"github.com/tunegrab/tunegrab/internal/media"
	"github.com/tunegrab/tunegrab/internal/resolver"
)

func TestSpotifyTrackID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		url    string
		wantID string
		wantOK bool
	}{
		{
			name:   "plain track link",
			url:    "https://open.spotify.com/track/4cOdK2wGLETKBW3PvgPWqT",
			wantID: "4cOdK2wGLETKBW3PvgPWqT",
			wantOK: true,
		},
		{
			name:   "intl track link",
			url:    "https://open.spotify.com/intl-de/track/4cOdK2wGLETKBW3PvgPWqT",
			wantID: "4cOdK2wGLETKBW3PvgPWqT",
			wantOK: true,
		},
		{
			name:   "track link with query string",
			url:    "https://open.spotify.com/track/4cOdK2wGLETKBW3PvgPWqT?si=abc123",
			wantID: "4cOdK2wGLETKBW3PvgPWqT",
			wantOK: true,
		},
		{
			name:   "album link is not a track",
			url:    "https://open.spotify.com/album/2noRn2Aes5aoNVsU6iWThc",
			wantOK: false,
		},
		{
			name:   "unrelated url",
			url:    "https://example.com/track/4cOdK2wGLETKBW3PvgPWqT",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id, ok := resolver.SpotifyTrackID(tt.url)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && string(id) != tt.wantID {
				t.Fatalf("id = %s, want %s", id, tt.wantID)
			}
		})
	}
}

func TestSaavnQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		url       string
		wantQuery string
		wantOK    bool
	}{
		{
			name:      "song link title slug",
			url:       "https://www.jiosaavn.com/song/tum-hi-ho/QgcZcTdm",
			wantQuery: "tum hi ho",
			wantOK:    true,
		},
		{
			name:      "single word title",
			url:       "https://www.jiosaavn.com/song/believer/FRIdcSJqWCc",
			wantQuery: "believer",
			wantOK:    true,
		},
		{
			name:   "album link is not a song",
			url:    "https://www.jiosaavn.com/album/aashiqui-2/3N7PrTliMq4_",
			wantOK: false,
		},
		{
			name:   "unrelated url",
			url:    "https://example.com/song/a/b",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			query, ok := resolver.SaavnQuery(tt.url)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && query != tt.wantQuery {
				t.Fatalf("query = %q, want %q", query, tt.wantQuery)
			}
		})
	}
}

func TestResolve_SpotifyWithoutCredentials(t *testing.T) {
	t.Parallel()

	svc := resolver.New(config.DownloadConfig{
		YTDLPPath:     "yt-dlp",
		SearchTimeout: time.Second,
	}, nil, nil)

	_, err := svc.Resolve(context.Background(), "https://open.spotify.com/track/4cOdK2wGLETKBW3PvgPWqT")
	if got := media.KindOf(err); got != media.KindResolveNotFound {
		t.Fatalf("error kind = %s, want %s", got, media.KindResolveNotFound)
	}
}
