package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/latoulicious/voicecast/internal/apperrors"
	"github.com/latoulicious/voicecast/internal/config"
	"github.com/latoulicious/voicecast/internal/httpfetch"
)

// APIClient is the provider network interface consumed by the adapter
// (spec.md §6). It is satisfied by httpAPIClient in production and can
// be faked in tests without touching the network.
type APIClient interface {
	SearchTracks(ctx context.Context, name string) ([]rawTrack, error)
	GetTrack(ctx context.Context, id string) (*rawTrack, error)
	GetAlbumWithTracks(ctx context.Context, id string) ([]rawTrack, error)
	GetPlaylistByUser(ctx context.Context, user, id string) ([]rawTrack, error)
	GetPlaylistByKind(ctx context.Context, kind string) ([]rawTrack, error)
	GetSimilarTracks(ctx context.Context, id string) ([]rawTrack, error)
	CreateRotorSession(ctx context.Context, seed string, generative bool) (sessionID, batchID string, err error)
	PostRotorSessionTracks(ctx context.Context, sessionID, batchID string, queued []string) ([]rawTrack, error)
	GetMp3DownloadURL(ctx context.Context, id string) (string, error)
}

// rawTrack is the tolerant wire schema: missing fields default, unknown
// fields are ignored by encoding/json already.
type rawTrack struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Artists    []Artist `json:"artists"`
	Albums     []Album  `json:"albums"`
	DurationMs uint32   `json:"durationMs"`
	CoverURI   string   `json:"coverUri"`
}

func (r rawTrack) toTrack(source Source, generation bool) Track {
	return Track{
		ID: r.ID, Title: r.Title, Artists: r.Artists, Albums: r.Albums,
		DurationMs: r.DurationMs, CoverURI: r.CoverURI, Source: source, Generation: generation,
	}
}

// httpAPIClient is the production APIClient, built on the shared
// HttpFetcher so retry/timeout/redirect policy is consistent with the
// rest of the pipeline.
type httpAPIClient struct {
	cfg     config.ProviderConfig
	fetcher *httpfetch.Fetcher
}

func newHTTPAPIClient(cfg config.ProviderConfig, fetcher *httpfetch.Fetcher) *httpAPIClient {
	return &httpAPIClient{cfg: cfg, fetcher: fetcher}
}

func (c *httpAPIClient) authHeaders() map[string]string {
	return map[string]string{"Authorization": "OAuth " + c.cfg.APIKey}
}

func (c *httpAPIClient) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.fetcher.FetchWithRetry(ctx, c.cfg.BaseURL+path, httpfetch.FetchOptions{Headers: c.authHeaders()}, 3, 0)
	if err != nil {
		return classifyAPIError(err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.New(apperrors.KindProviderInvalidData, "httpAPIClient.getJSON", err)
	}
	return nil
}

func (c *httpAPIClient) postJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
	resp, err := c.fetcher.Fetch(ctx, c.cfg.BaseURL+path, httpfetch.FetchOptions{Method: "POST", Headers: c.authHeaders(), Body: body})
	if err != nil {
		return classifyAPIError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == 400 {
		return apperrors.New(apperrors.KindProviderFatal, "httpAPIClient.postJSON", fmt.Errorf("status 400"))
	}
	if apperrors.IsRetryableStatusCode(resp.StatusCode) {
		return apperrors.New(apperrors.KindProviderTransient, "httpAPIClient.postJSON", fmt.Errorf("status %d", resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.New(apperrors.KindProviderInvalidData, "httpAPIClient.postJSON", err)
	}
	return nil
}

func classifyAPIError(err error) error {
	switch apperrors.KindOf(err) {
	case apperrors.KindHttpTimeout, apperrors.KindHttpIo:
		return apperrors.New(apperrors.KindProviderTransient, "httpAPIClient", err)
	default:
		return err
	}
}

type searchResponse struct {
	Tracks []rawTrack `json:"tracks"`
}

func (c *httpAPIClient) SearchTracks(ctx context.Context, name string) ([]rawTrack, error) {
	var resp searchResponse
	if err := c.getJSON(ctx, "/search?text="+url.QueryEscape(name)+"&type=track", &resp); err != nil {
		return nil, err
	}
	return resp.Tracks, nil
}

func (c *httpAPIClient) GetTrack(ctx context.Context, id string) (*rawTrack, error) {
	var resp []rawTrack
	if err := c.getJSON(ctx, "/tracks/"+id, &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, apperrors.New(apperrors.KindProviderNotFound, "httpAPIClient.GetTrack", nil)
	}
	return &resp[0], nil
}

type albumResponse struct {
	Volumes [][]rawTrack `json:"volumes"`
}

func (c *httpAPIClient) GetAlbumWithTracks(ctx context.Context, id string) ([]rawTrack, error) {
	var resp albumResponse
	if err := c.getJSON(ctx, "/albums/"+id+"/with-tracks", &resp); err != nil {
		return nil, err
	}
	var out []rawTrack
	for _, vol := range resp.Volumes {
		out = append(out, vol...)
	}
	return out, nil
}

type playlistResponse struct {
	Tracks []struct {
		Track rawTrack `json:"track"`
	} `json:"tracks"`
}

func (c *httpAPIClient) GetPlaylistByUser(ctx context.Context, user, id string) ([]rawTrack, error) {
	var resp playlistResponse
	if err := c.getJSON(ctx, "/users/"+user+"/playlists/"+id, &resp); err != nil {
		return nil, err
	}
	return flattenPlaylist(resp), nil
}

func (c *httpAPIClient) GetPlaylistByKind(ctx context.Context, kind string) ([]rawTrack, error) {
	var resp playlistResponse
	if err := c.getJSON(ctx, "/playlists/"+kind, &resp); err != nil {
		return nil, err
	}
	return flattenPlaylist(resp), nil
}

func flattenPlaylist(resp playlistResponse) []rawTrack {
	out := make([]rawTrack, 0, len(resp.Tracks))
	for _, t := range resp.Tracks {
		out = append(out, t.Track)
	}
	return out
}

func (c *httpAPIClient) GetSimilarTracks(ctx context.Context, id string) ([]rawTrack, error) {
	var resp struct {
		SimilarTracks []rawTrack `json:"similarTracks"`
	}
	if err := c.getJSON(ctx, "/tracks/"+id+"/similar", &resp); err != nil {
		return nil, err
	}
	return resp.SimilarTracks, nil
}

func (c *httpAPIClient) CreateRotorSession(ctx context.Context, seed string, generative bool) (string, string, error) {
	var resp struct {
		SessionID string `json:"sessionId"`
		BatchID   string `json:"batchId"`
	}
	path := fmt.Sprintf("/rotor/session/new?seed=%s&generative=%t", url.QueryEscape(seed), generative)
	if err := c.postJSON(ctx, path, nil, &resp); err != nil {
		return "", "", err
	}
	return resp.SessionID, resp.BatchID, nil
}

func (c *httpAPIClient) PostRotorSessionTracks(ctx context.Context, sessionID, batchID string, queued []string) ([]rawTrack, error) {
	var resp struct {
		Sequence []struct {
			Track rawTrack `json:"track"`
		} `json:"sequence"`
	}
	path := fmt.Sprintf("/rotor/session/%s/tracks?batchId=%s", url.PathEscape(sessionID), url.QueryEscape(batchID))
	if err := c.postJSON(ctx, path, queued, &resp); err != nil {
		return nil, err
	}
	out := make([]rawTrack, 0, len(resp.Sequence))
	for _, s := range resp.Sequence {
		out = append(out, s.Track)
	}
	return out, nil
}

func (c *httpAPIClient) GetMp3DownloadURL(ctx context.Context, id string) (string, error) {
	var resp struct {
		URL    string `json:"downloadUrl"`
		URLNew string `json:"downloadUrlNew"`
	}
	path := "/tracks/" + id + "/download-info?high=true"
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return "", err
	}
	if resp.URL != "" {
		return resp.URL, nil
	}
	return resp.URLNew, nil
}
