// Package resolver turns raw request text (a song name or a supported
// link) into a media descriptor via yt-dlp search. Spotify and JioSaavn
// links are unwrapped into search queries first.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/zmb3/spotify/v2"

	"github.com/tunegrab/tunegrab/internal/config"
	"github.com/tunegrab/tunegrab/internal/media"
)

// TrackLookup is the slice of the Spotify API the resolver needs.
// *spotify.Client satisfies it.
type TrackLookup interface {
	GetTrack(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.FullTrack, error)
}

// Service resolves request text with yt-dlp. A nil spotify lookup
// disables Spotify link unwrapping.
type Service struct {
	ytdlpPath string
	timeout   time.Duration
	spotify   TrackLookup
	logger    *slog.Logger
}

// New creates a resolver Service.
func New(cfg config.DownloadConfig, sp TrackLookup, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ytdlpPath: cfg.YTDLPPath,
		timeout:   cfg.SearchTimeout,
		spotify:   sp,
		logger:    logger.With("component", "resolver"),
	}
}

var (
	urlPattern          = regexp.MustCompile(`^https?://\S+`)
	spotifyTrackPattern = regexp.MustCompile(`spotify\.com/(?:intl-[a-z]+/)?track/([A-Za-z0-9]+)`)
	saavnSongPattern    = regexp.MustCompile(`/song/([^/]+)/[^/?]+`)
)

// Resolve produces a descriptor for the request text or a classified
// pipeline error (not-found vs transient).
func (s *Service) Resolve(ctx context.Context, text string) (*media.Descriptor, error) {
	query, err := s.searchQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "Searching for track", "query", query)
	return s.search(ctx, query)
}

// searchQuery unwraps supported links into plain search queries. Text
// that is not a link passes through unchanged.
func (s *Service) searchQuery(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if !urlPattern.MatchString(text) {
		return text, nil
	}

	if id, ok := SpotifyTrackID(text); ok {
		if s.spotify == nil {
			return "", media.NewFlowError(media.KindResolveNotFound,
				errors.New("spotify links are not supported without spotify credentials"))
		}
		track, err := s.spotify.GetTrack(ctx, id)
		if err != nil {
			s.logger.WarnContext(ctx, "Spotify track lookup failed", "track_id", id, "error", err)
			return "", media.NewFlowError(media.KindResolveTransient,
				fmt.Errorf("spotify lookup failed: %w", err))
		}
		query := track.Name
		if len(track.Artists) > 0 {
			query += " " + track.Artists[0].Name
		}
		return query, nil
	}

	if query, ok := SaavnQuery(text); ok {
		return query, nil
	}

	// Any other URL goes to yt-dlp directly; it handles the providers
	// it knows about itself.
	return text, nil
}

// SpotifyTrackID extracts the track id from a Spotify track URL.
func SpotifyTrackID(url string) (spotify.ID, bool) {
	if !strings.Contains(url, "spotify.com") {
		return "", false
	}
	m := spotifyTrackPattern.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	return spotify.ID(m[1]), true
}

// SaavnQuery extracts a search query from a JioSaavn song URL title
// slug.
func SaavnQuery(url string) (string, bool) {
	if !strings.Contains(url, "jiosaavn.com") {
		return "", false
	}
	m := saavnSongPattern.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	return strings.ReplaceAll(m[1], "-", " "), true
}

// searchResult is the subset of yt-dlp's --dump-json output we read.
type searchResult struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Artist     string  `json:"artist"`
	Album      string  `json:"album"`
	Duration   float64 `json:"duration"`
	WebpageURL string  `json:"webpage_url"`
}

func (s *Service) search(ctx context.Context, query string) (*media.Descriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.ytdlpPath,
		"--dump-json",
		"--no-playlist",
		"--default-search", "ytsearch1",
		query,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, media.NewFlowError(media.KindResolveTransient,
			fmt.Errorf("yt-dlp search timed out: %w", ctx.Err()))
	}
	if err != nil {
		return nil, classifySearchError(err, stderr.String())
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, media.NewFlowError(media.KindResolveNotFound,
			fmt.Errorf("no results for %q", query))
	}

	// yt-dlp prints one JSON document per entry; only the first matters
	// for a single-result search.
	if idx := bytes.IndexByte(out, '\n'); idx != -1 {
		out = out[:idx]
	}

	var result searchResult
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, media.NewFlowError(media.KindResolveTransient,
			fmt.Errorf("failed to parse yt-dlp output: %w", err))
	}

	return descriptorFromResult(&result), nil
}

func descriptorFromResult(r *searchResult) *media.Descriptor {
	artist := r.Artist
	if artist == "" {
		artist = r.Uploader
	}
	sourceRef := r.WebpageURL
	if sourceRef == "" {
		sourceRef = "https://www.youtube.com/watch?v=" + r.ID
	}
	return &media.Descriptor{
		Title:     r.Title,
		Artist:    artist,
		Album:     r.Album,
		Duration:  time.Duration(r.Duration * float64(time.Second)),
		SourceRef: sourceRef,
	}
}

// classifySearchError maps a yt-dlp failure onto the pipeline taxonomy
// using the stderr text.
func classifySearchError(err error, stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "unavailable"),
		strings.Contains(lower, "not found"),
		strings.Contains(lower, "no video results"),
		strings.Contains(lower, "unsupported url"):
		return media.NewFlowError(media.KindResolveNotFound,
			fmt.Errorf("yt-dlp: %s: %w", firstLine(stderr), err))
	default:
		return media.NewFlowError(media.KindResolveTransient,
			fmt.Errorf("yt-dlp search failed: %s: %w", firstLine(stderr), err))
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		s = s[:idx]
	}
	return s
}
