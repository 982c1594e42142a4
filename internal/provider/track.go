// Package provider implements the ProviderAdapter component: search,
// URL resolution, playlist/album/track fetch and station/radio session
// management against a remote music service (spec.md §4.6). It is
// grounded on the teacher's pkg/audio/factory.go dependency-injection
// shape and pkg/common/youtube.go's retry/validation style, since the
// teacher has no HTTP-API music-search client of its own.
package provider

// Source identifies which provider produced a Track.
type Source string

const (
	SourceYandex  Source = "Yandex"
	SourceYouTube Source = "YouTube"
	SourceOther   Source = "Other"
)

// Artist and Album are the tolerant sub-schemas spec.md §6 fixes for
// the provider network interface's Track validation.
type Artist struct {
	Name string `json:"name"`
}

type Album struct {
	Title string `json:"title,omitempty"`
}

// Track is the internal, validated track schema (spec.md §3).
type Track struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Artists    []Artist `json:"artists"`
	Albums     []Album  `json:"albums"`
	DurationMs uint32   `json:"durationMs,omitempty"`
	CoverURI   string   `json:"coverUri,omitempty"`
	Source     Source   `json:"source"`
	Generation bool     `json:"generation"`
}

// Valid reports whether a raw decoded track satisfies the minimal
// schema spec.md §6 requires (id, title, artists present).
func (t Track) Valid() bool {
	return t.ID != "" && t.Title != "" && len(t.Artists) > 0
}
