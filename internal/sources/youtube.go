package sources

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

// YouTube metric names.
var (
	YouTubeChannelMetrics = []string{"subscribers", "video_count", "total_views"}
	YouTubeVideoMetrics   = []string{"views", "likes", "comments"}
)

const defaultYouTubeBaseURL = "https://www.googleapis.com/youtube/v3"

// YouTubeKind maps a metric to the resource kind it is read from.
func YouTubeKind(metric string) string {
	if contains(YouTubeVideoMetrics, metric) {
		return KindVideo
	}
	return KindChannel
}

// YouTubeDataAPI reads channel and video statistics from the YouTube Data API v3.
type YouTubeDataAPI struct {
	client  *retryablehttp.Client
	baseURL string
	apiKey  string
}

// NewYouTubeDataAPI constructs the strategy. An empty baseURL selects the public endpoint.
func NewYouTubeDataAPI(client *retryablehttp.Client, baseURL, apiKey string) *YouTubeDataAPI {
	if baseURL == "" {
		baseURL = defaultYouTubeBaseURL
	}
	return &YouTubeDataAPI{client: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

// Name implements Strategy.
func (y *YouTubeDataAPI) Name() string { return "youtube_data_api" }

// Supports implements Strategy.
func (y *YouTubeDataAPI) Supports(q Query) bool {
	switch q.Kind {
	case KindVideo:
		return contains(YouTubeVideoMetrics, q.Metric)
	case KindChannel, "":
		return contains(YouTubeChannelMetrics, q.Metric)
	}
	return false
}

type youtubeThumbnail struct {
	URL string `json:"url"`
}

type youtubeListResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			CustomURL    string `json:"customUrl"`
			PublishedAt  string `json:"publishedAt"`
			ChannelID    string `json:"channelId"`
			ChannelTitle string `json:"channelTitle"`
			Thumbnails   struct {
				High   *youtubeThumbnail `json:"high"`
				Medium *youtubeThumbnail `json:"medium"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		Statistics map[string]any `json:"statistics"`
	} `json:"items"`
}

// Fetch implements Strategy.
func (y *YouTubeDataAPI) Fetch(ctx context.Context, q Query) (*Result, error) {
	if y.apiKey == "" {
		return nil, errors.New("youtube api key not configured")
	}
	if q.Kind == KindVideo {
		return y.fetchVideo(ctx, YouTubeVideoID(q.ResourceID), q.Metric)
	}
	return y.fetchChannel(ctx, YouTubeChannelID(q.ResourceID), q.Metric)
}

func (y *YouTubeDataAPI) fetchChannel(ctx context.Context, identifier, metric string) (*Result, error) {
	lookups := []string{"forHandle", "forUsername"}
	if strings.HasPrefix(identifier, "UC") {
		lookups = []string{"id"}
	}

	var resp youtubeListResponse
	for _, param := range lookups {
		if err := y.list(ctx, "channels", param, identifier, &resp); err != nil {
			return nil, err
		}
		if len(resp.Items) > 0 {
			break
		}
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("youtube channel %q not found", identifier)
	}

	item := resp.Items[0]
	field := map[string]string{
		"subscribers": "subscriberCount",
		"video_count": "videoCount",
		"total_views": "viewCount",
	}[metric]
	value, err := statistic(item.Statistics, field)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{
		"channel_id":    item.ID,
		"channel_title": item.Snippet.Title,
	}
	if item.Snippet.CustomURL != "" {
		meta["custom_url"] = item.Snippet.CustomURL
	}
	if hidden, ok := item.Statistics["hiddenSubscriberCount"].(bool); ok {
		meta["hidden_subscriber_count"] = hidden
	}
	if thumb := thumbnail(item.Snippet.Thumbnails.High, item.Snippet.Thumbnails.Medium); thumb != "" {
		meta["thumbnail"] = thumb
	}
	return &Result{Value: value, Metadata: meta}, nil
}

func (y *YouTubeDataAPI) fetchVideo(ctx context.Context, videoID, metric string) (*Result, error) {
	var resp youtubeListResponse
	if err := y.list(ctx, "videos", "id", videoID, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("youtube video %q not found", videoID)
	}

	item := resp.Items[0]
	field := map[string]string{
		"views":    "viewCount",
		"likes":    "likeCount",
		"comments": "commentCount",
	}[metric]
	value, err := statistic(item.Statistics, field)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{
		"video_id":    item.ID,
		"video_title": item.Snippet.Title,
	}
	if item.Snippet.ChannelID != "" {
		meta["channel_id"] = item.Snippet.ChannelID
	}
	if item.Snippet.ChannelTitle != "" {
		meta["channel_name"] = item.Snippet.ChannelTitle
	}
	if item.Snippet.PublishedAt != "" {
		meta["published_at"] = item.Snippet.PublishedAt
	}
	if thumb := thumbnail(item.Snippet.Thumbnails.High, item.Snippet.Thumbnails.Medium); thumb != "" {
		meta["thumbnail"] = thumb
	}
	return &Result{Value: value, Metadata: meta}, nil
}

func (y *YouTubeDataAPI) list(ctx context.Context, resource, param, value string, out *youtubeListResponse) error {
	query := url.Values{}
	query.Set("part", "snippet,statistics")
	query.Set(param, value)
	query.Set("key", y.apiKey)

	if err := getJSON(ctx, y.client, y.baseURL+"/"+resource+"?"+query.Encode(), nil, out); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == 403 {
			return fmt.Errorf("youtube api rejected the request, check the api key and quota: %w", err)
		}
		return err
	}
	return nil
}

// statistic reads a counter which the API encodes as a decimal string.
// Missing counters read as zero.
func statistic(stats map[string]any, field string) (*big.Int, error) {
	raw, ok := stats[field]
	if !ok || raw == nil {
		return big.NewInt(0), nil
	}
	switch v := raw.(type) {
	case string:
		value, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil, fmt.Errorf("statistic %s is not numeric: %q", field, v)
		}
		return value, nil
	case float64:
		value, _ := big.NewFloat(v).Int(nil)
		return value, nil
	}
	return nil, fmt.Errorf("statistic %s has unexpected type %T", field, raw)
}

func thumbnail(candidates ...*youtubeThumbnail) string {
	for _, c := range candidates {
		if c != nil && c.URL != "" {
			return c.URL
		}
	}
	return ""
}

// NewYouTubeSource wires the YouTube strategies into a Source.
func NewYouTubeSource(api *YouTubeDataAPI, opts ...FallbackOption) *FallbackSource {
	supported := append(append([]string(nil), YouTubeChannelMetrics...), YouTubeVideoMetrics...)
	opts = append([]FallbackOption{WithKindResolver(YouTubeKind)}, opts...)
	return NewFallbackSource("youtube", supported, []Strategy{api}, opts...)
}
