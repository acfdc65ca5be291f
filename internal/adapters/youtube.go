package adapters

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"encoding/json"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"newsdigest/internal/apperror"
	"newsdigest/internal/model"
)

// YouTubeConfig is the subset of internal/config.YouTubeConfig the adapter
// needs, kept narrow so this package doesn't import internal/config.
type YouTubeConfig struct {
	ClientID     string
	ClientSecret string
	TokenFile    string
	ChannelIDs   []string
}

// YouTubeAdapter implements Adapter and TranscriptFetcher over the YouTube
// Data API v3. Rather than scanning the authenticated user's subscriptions,
// it walks a configured list of channel IDs, per the channel-catalog
// setting.
type YouTubeAdapter struct {
	service     *youtube.Service
	cfg         YouTubeConfig
	oauthConfig *oauth2.Config
	token       *oauth2.Token
}

func (a *YouTubeAdapter) Name() string { return "youtube" }

// NewYouTubeAdapter authenticates via OAuth2 device-authorization flow,
// reusing a cached token when present and refreshing-and-saving it
// transparently thereafter.
func NewYouTubeAdapter(ctx context.Context, cfg YouTubeConfig) (*YouTubeAdapter, error) {
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{"https://www.googleapis.com/auth/youtube.readonly", "https://www.googleapis.com/auth/youtube.force-ssl"},
		Endpoint:     google.Endpoint,
	}

	token, err := getYouTubeToken(oauthConfig, cfg.TokenFile)
	if err != nil {
		return nil, &apperror.ConfigError{Field: "youtube", Err: fmt.Errorf("oauth token: %w", err)}
	}

	ts := &tokenSaver{config: oauthConfig, token: token, tokenFile: cfg.TokenFile}
	httpClient := oauth2.NewClient(ctx, ts)

	service, err := youtube.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, &apperror.ConfigError{Field: "youtube", Err: fmt.Errorf("create service: %w", err)}
	}

	return &YouTubeAdapter{service: service, cfg: cfg, oauthConfig: oauthConfig, token: token}, nil
}

// Fetch resolves each configured channel's uploads playlist, lists its
// recent items, and returns the ones published in [since, now].
func (a *YouTubeAdapter) Fetch(ctx context.Context, since, now time.Time) ([]Item, error) {
	if len(a.cfg.ChannelIDs) == 0 {
		return nil, nil
	}

	uploadPlaylists, err := a.resolveUploadPlaylists(a.cfg.ChannelIDs)
	if err != nil {
		return nil, &apperror.FetchError{Source: a.Name(), Kind: apperror.FetchNetwork, Retriable: true, Err: err}
	}

	var videoIDs []string
	for channelID, playlistID := range uploadPlaylists {
		ids, err := a.recentVideoIDs(playlistID, since)
		if err != nil {
			// one channel's playlist lookup failing does not abort the
			// whole adapter; the remaining channels still contribute.
			continue
		}
		_ = channelID
		videoIDs = append(videoIDs, ids...)
	}
	if len(videoIDs) == 0 {
		return nil, nil
	}

	videos, err := a.videoDetails(videoIDs)
	if err != nil {
		return nil, &apperror.FetchError{Source: a.Name(), Kind: apperror.FetchNetwork, Retriable: true, Err: err}
	}

	items := make([]Item, 0, len(videos))
	for _, v := range videos {
		if v.PublishedAt.Before(since) || v.PublishedAt.After(now) {
			continue
		}
		items = append(items, Item{Video: v})
	}
	sortItemsDesc(items)
	return items, nil
}

// FetchTranscript retrieves a caption track for videoID, if one is
// available and accessible to the authenticated credentials. The YouTube
// Data API only exposes caption downloads for videos the credentials have
// rights to; for third-party channels this commonly returns an empty
// transcript rather than an error, which the Process stage treats as a
// normal (not advisory-failed) outcome.
func (a *YouTubeAdapter) FetchTranscript(ctx context.Context, videoID string) (string, error) {
	listResp, err := a.service.Captions.List([]string{"snippet"}, videoID).Do()
	if err != nil {
		return "", fmt.Errorf("list captions for %s: %w", videoID, err)
	}
	if len(listResp.Items) == 0 {
		return "", nil
	}

	var captionID string
	for _, c := range listResp.Items {
		if c.Snippet != nil && c.Snippet.Language == "en" {
			captionID = c.Id
			break
		}
	}
	if captionID == "" {
		captionID = listResp.Items[0].Id
	}

	resp, err := a.service.Captions.Download(captionID).Download()
	if err != nil {
		return "", nil // inaccessible to these credentials; not a failure
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read caption track for %s: %w", videoID, err)
	}
	return string(body), nil
}

func (a *YouTubeAdapter) resolveUploadPlaylists(channelIDs []string) (map[string]string, error) {
	result := make(map[string]string, len(channelIDs))
	const batchSize = 50
	for i := 0; i < len(channelIDs); i += batchSize {
		end := min(i+batchSize, len(channelIDs))
		batch := channelIDs[i:end]

		resp, err := a.service.Channels.List([]string{"contentDetails"}).Id(strings.Join(batch, ",")).Do()
		if err != nil {
			return nil, fmt.Errorf("list channels: %w", err)
		}
		for _, ch := range resp.Items {
			if ch.ContentDetails != nil && ch.ContentDetails.RelatedPlaylists != nil {
				if uploads := ch.ContentDetails.RelatedPlaylists.Uploads; uploads != "" {
					result[ch.Id] = uploads
				}
			}
		}
	}
	return result, nil
}

func (a *YouTubeAdapter) recentVideoIDs(playlistID string, since time.Time) ([]string, error) {
	resp, err := a.service.PlaylistItems.List([]string{"snippet"}).PlaylistId(playlistID).MaxResults(20).Do()
	if err != nil {
		return nil, fmt.Errorf("list playlist items: %w", err)
	}

	var ids []string
	for _, item := range resp.Items {
		published, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
		if err != nil {
			continue
		}
		if published.Before(since) {
			continue
		}
		ids = append(ids, item.Snippet.ResourceId.VideoId)
	}
	return ids, nil
}

func (a *YouTubeAdapter) videoDetails(videoIDs []string) ([]*model.VideoItem, error) {
	var videos []*model.VideoItem
	const batchSize = 50
	for i := 0; i < len(videoIDs); i += batchSize {
		end := min(i+batchSize, len(videoIDs))
		batch := videoIDs[i:end]

		resp, err := a.service.Videos.List([]string{"snippet", "contentDetails"}).Id(strings.Join(batch, ",")).Do()
		if err != nil {
			return nil, fmt.Errorf("list videos: %w", err)
		}
		for _, item := range resp.Items {
			published, _ := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
			var durationSec int
			if item.ContentDetails != nil {
				durationSec = parseDurationSeconds(item.ContentDetails.Duration)
			}
			videos = append(videos, &model.VideoItem{
				VideoID:     item.Id,
				Title:       item.Snippet.Title,
				URL:         fmt.Sprintf("https://www.youtube.com/watch?v=%s", item.Id),
				ChannelID:   item.Snippet.ChannelId,
				PublishedAt: published,
				Description: item.Snippet.Description,
				DurationSec: durationSec,
			})
		}
	}
	return videos, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// parseDurationSeconds parses an ISO 8601 duration (e.g. "PT1M30S") into
// whole seconds.
func parseDurationSeconds(duration string) int {
	if duration == "" {
		return 0
	}
	re := regexp.MustCompile(`PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?`)
	matches := re.FindStringSubmatch(duration)
	if len(matches) == 0 {
		return 0
	}
	var total int
	if matches[1] != "" {
		h, _ := strconv.Atoi(matches[1])
		total += h * 3600
	}
	if matches[2] != "" {
		m, _ := strconv.Atoi(matches[2])
		total += m * 60
	}
	if matches[3] != "" {
		s, _ := strconv.Atoi(matches[3])
		total += s
	}
	return total
}

// tokenSaver wraps an oauth2.TokenSource to persist refreshed tokens to
// disk so they survive process restarts.
type tokenSaver struct {
	config    *oauth2.Config
	token     *oauth2.Token
	tokenFile string
	mu        sync.Mutex
}

func (ts *tokenSaver) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	src := ts.config.TokenSource(context.Background(), ts.token)
	newToken, err := src.Token()
	if err != nil {
		return nil, err
	}
	if newToken.AccessToken != ts.token.AccessToken {
		ts.token = newToken
		_ = saveYouTubeToken(ts.tokenFile, newToken)
	}
	return newToken, nil
}

func getYouTubeToken(config *oauth2.Config, tokenFile string) (*oauth2.Token, error) {
	if tok, err := youtubeTokenFromFile(tokenFile); err == nil {
		if tok.RefreshToken != "" || tok.Valid() {
			return tok, nil
		}
	}

	tok, err := getYouTubeTokenFromWeb(config)
	if err != nil {
		return nil, err
	}
	if err := saveYouTubeToken(tokenFile, tok); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	return tok, nil
}

func getYouTubeTokenFromWeb(config *oauth2.Config) (*oauth2.Token, error) {
	ctx := context.Background()

	resp, err := config.DeviceAuth(ctx, oauth2.AccessTypeOffline)
	if err != nil {
		return nil, fmt.Errorf("start device authorization: %w", err)
	}

	fmt.Printf("Visit %s and enter code %s to authorize YouTube access.\n", resp.VerificationURI, resp.UserCode)

	tok, err := config.DeviceAccessToken(ctx, resp, oauth2.AccessTypeOffline)
	if err != nil {
		return nil, fmt.Errorf("device authorization did not complete: %w", err)
	}
	return tok, nil
}

func youtubeTokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

func saveYouTubeToken(path string, token *oauth2.Token) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create token directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}
