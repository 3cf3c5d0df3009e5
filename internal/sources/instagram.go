package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

// Instagram metric names.
var (
	InstagramProfileMetrics = []string{"followers", "following", "posts_count"}
	InstagramPostMetrics    = []string{"likes", "comments", "views"}
)

const (
	defaultGraphBaseURL     = "https://graph.facebook.com/v23.0"
	defaultInstagramBaseURL = "https://www.instagram.com"
	instagramWebAppID       = "936619743392459"
)

// InstagramKind maps a metric to the resource kind it is read from.
func InstagramKind(metric string) string {
	if contains(InstagramPostMetrics, metric) {
		return KindPost
	}
	return KindProfile
}

// InstagramGraphAPI reads public profile counters through the Graph API business discovery edge.
// It needs a business account id and a valid access token.
type InstagramGraphAPI struct {
	client            *retryablehttp.Client
	baseURL           string
	businessAccountID string
	tokens            TokenProvider
}

// NewInstagramGraphAPI constructs the strategy. An empty baseURL selects the public endpoint.
func NewInstagramGraphAPI(client *retryablehttp.Client, baseURL, businessAccountID string, tokens TokenProvider) *InstagramGraphAPI {
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	return &InstagramGraphAPI{
		client:            client,
		baseURL:           strings.TrimRight(baseURL, "/"),
		businessAccountID: businessAccountID,
		tokens:            tokens,
	}
}

// Name implements Strategy.
func (g *InstagramGraphAPI) Name() string { return "instagram_graph_api" }

// Supports implements Strategy.
func (g *InstagramGraphAPI) Supports(q Query) bool {
	if g.businessAccountID == "" || g.tokens == nil {
		return false
	}
	return q.Kind != KindPost && contains(InstagramProfileMetrics, q.Metric)
}

type businessDiscoveryResponse struct {
	BusinessDiscovery *struct {
		Username          string      `json:"username"`
		Name              string      `json:"name"`
		ProfilePictureURL string      `json:"profile_picture_url"`
		FollowersCount    json.Number `json:"followers_count"`
		FollowsCount      json.Number `json:"follows_count"`
		MediaCount        json.Number `json:"media_count"`
	} `json:"business_discovery"`
}

// Fetch implements Strategy.
func (g *InstagramGraphAPI) Fetch(ctx context.Context, q Query) (*Result, error) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("access token: %w", err)
	}
	if token == "" {
		return nil, errors.New("access token not available")
	}

	username := InstagramUsername(q.ResourceID)
	fields := fmt.Sprintf("business_discovery.username(%s){username,name,profile_picture_url,followers_count,follows_count,media_count}", username)
	query := url.Values{}
	query.Set("fields", fields)
	query.Set("access_token", token)

	var resp businessDiscoveryResponse
	if err := getJSON(ctx, g.client, g.baseURL+"/"+url.PathEscape(g.businessAccountID)+"?"+query.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.BusinessDiscovery == nil {
		return nil, fmt.Errorf("instagram account %q not found via business discovery", username)
	}
	bd := resp.BusinessDiscovery

	counts := map[string]json.Number{
		"followers":   bd.FollowersCount,
		"following":   bd.FollowsCount,
		"posts_count": bd.MediaCount,
	}
	value, err := number(counts[q.Metric])
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"username": bd.Username, "source": "graph_api"}
	if bd.Name != "" {
		meta["full_name"] = bd.Name
	}
	if bd.ProfilePictureURL != "" {
		meta["profile_pic_url"] = bd.ProfilePictureURL
	}
	return &Result{Value: value, Metadata: meta}, nil
}

// InstagramWeb reads counters from the public web endpoints. It needs no credentials
// but is rate limited aggressively upstream.
type InstagramWeb struct {
	client  *retryablehttp.Client
	baseURL string
}

// NewInstagramWeb constructs the strategy. An empty baseURL selects the public site.
func NewInstagramWeb(client *retryablehttp.Client, baseURL string) *InstagramWeb {
	if baseURL == "" {
		baseURL = defaultInstagramBaseURL
	}
	return &InstagramWeb{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Name implements Strategy.
func (w *InstagramWeb) Name() string { return "instagram_web" }

// Supports implements Strategy.
func (w *InstagramWeb) Supports(q Query) bool {
	if q.Kind == KindPost {
		return contains(InstagramPostMetrics, q.Metric)
	}
	return contains(InstagramProfileMetrics, q.Metric)
}

type edgeCount struct {
	Count json.Number `json:"count"`
}

type webProfileResponse struct {
	Data struct {
		User *struct {
			Username          string     `json:"username"`
			FullName          string     `json:"full_name"`
			ProfilePicURLHD   string     `json:"profile_pic_url_hd"`
			ProfilePicURL     string     `json:"profile_pic_url"`
			IsVerified        *bool      `json:"is_verified"`
			IsPrivate         *bool      `json:"is_private"`
			EdgeFollowedBy    *edgeCount `json:"edge_followed_by"`
			EdgeFollow        *edgeCount `json:"edge_follow"`
			EdgeTimelineMedia *edgeCount `json:"edge_owner_to_timeline_media"`
		} `json:"user"`
	} `json:"data"`
}

type shortcodeMedia struct {
	ID                   string      `json:"id"`
	Shortcode            string      `json:"shortcode"`
	IsVideo              bool        `json:"is_video"`
	VideoViewCount       json.Number `json:"video_view_count"`
	EdgeMediaPreviewLike *edgeCount  `json:"edge_media_preview_like"`
	EdgeLikedBy          *edgeCount  `json:"edge_liked_by"`
	EdgeMediaToComment   *edgeCount  `json:"edge_media_to_comment"`
	EdgeParentComment    *edgeCount  `json:"edge_media_to_parent_comment"`
}

type webPostResponse struct {
	Data struct {
		ShortcodeMedia *shortcodeMedia `json:"shortcode_media"`
	} `json:"data"`
	GraphQL struct {
		ShortcodeMedia *shortcodeMedia `json:"shortcode_media"`
	} `json:"graphql"`
}

// Fetch implements Strategy.
func (w *InstagramWeb) Fetch(ctx context.Context, q Query) (*Result, error) {
	if q.Kind == KindPost {
		return w.fetchPost(ctx, InstagramShortcode(q.ResourceID), q.Metric)
	}
	return w.fetchProfile(ctx, InstagramUsername(q.ResourceID), q.Metric)
}

func (w *InstagramWeb) fetchProfile(ctx context.Context, username, metric string) (*Result, error) {
	headers := map[string]string{
		"x-ig-app-id":     instagramWebAppID,
		"Accept-Language": "en-US,en;q=0.9",
		"Referer":         w.baseURL + "/" + username + "/",
	}
	var resp webProfileResponse
	endpoint := w.baseURL + "/api/v1/users/web_profile_info/?username=" + url.QueryEscape(username)
	if err := getJSON(ctx, w.client, endpoint, headers, &resp); err != nil {
		return nil, err
	}
	user := resp.Data.User
	if user == nil {
		return nil, fmt.Errorf("instagram user %q not found", username)
	}

	counts := map[string]*edgeCount{
		"followers":   user.EdgeFollowedBy,
		"following":   user.EdgeFollow,
		"posts_count": user.EdgeTimelineMedia,
	}
	value, err := edgeValue(counts[metric])
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"username": firstNonEmpty(user.Username, username), "source": "web"}
	if user.FullName != "" {
		meta["full_name"] = user.FullName
	}
	if pic := firstNonEmpty(user.ProfilePicURLHD, user.ProfilePicURL); pic != "" {
		meta["profile_pic_url"] = pic
	}
	if user.IsVerified != nil {
		meta["is_verified"] = *user.IsVerified
	}
	if user.IsPrivate != nil {
		meta["is_private"] = *user.IsPrivate
	}
	return &Result{Value: value, Metadata: meta}, nil
}

func (w *InstagramWeb) fetchPost(ctx context.Context, shortcode, metric string) (*Result, error) {
	headers := map[string]string{"x-ig-app-id": instagramWebAppID}
	var resp webPostResponse
	endpoint := w.baseURL + "/p/" + url.PathEscape(shortcode) + "/?__a=1&__d=dis"
	if err := getJSON(ctx, w.client, endpoint, headers, &resp); err != nil {
		return nil, err
	}
	post := resp.Data.ShortcodeMedia
	if post == nil {
		post = resp.GraphQL.ShortcodeMedia
	}
	if post == nil {
		return nil, fmt.Errorf("instagram post %q not found", shortcode)
	}

	var (
		value *big.Int
		err   error
	)
	switch metric {
	case "likes":
		value, err = edgeValue(firstEdge(post.EdgeMediaPreviewLike, post.EdgeLikedBy))
	case "comments":
		value, err = edgeValue(firstEdge(post.EdgeMediaToComment, post.EdgeParentComment))
	case "views":
		value, err = number(post.VideoViewCount)
	}
	if err != nil {
		return nil, err
	}

	meta := map[string]any{"shortcode": firstNonEmpty(post.Shortcode, shortcode), "is_video": post.IsVideo}
	if post.ID != "" {
		meta["post_id"] = post.ID
	}
	return &Result{Value: value, Metadata: meta}, nil
}

// NewInstagramSource wires the Graph API ahead of the web fallback.
func NewInstagramSource(graph *InstagramGraphAPI, web *InstagramWeb, opts ...FallbackOption) *FallbackSource {
	strategies := make([]Strategy, 0, 2)
	if graph != nil {
		strategies = append(strategies, graph)
	}
	if web != nil {
		strategies = append(strategies, web)
	}
	supported := append(append([]string(nil), InstagramProfileMetrics...), InstagramPostMetrics...)
	opts = append([]FallbackOption{WithKindResolver(InstagramKind)}, opts...)
	return NewFallbackSource("instagram", supported, strategies, opts...)
}

// number parses a JSON number; absent numbers read as zero.
func number(n json.Number) (*big.Int, error) {
	if n == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(n.String(), 10)
	if !ok {
		return nil, fmt.Errorf("counter %q is not an integer", n)
	}
	return value, nil
}

func edgeValue(edge *edgeCount) (*big.Int, error) {
	if edge == nil {
		return big.NewInt(0), nil
	}
	return number(edge.Count)
}

func firstEdge(edges ...*edgeCount) *edgeCount {
	for _, edge := range edges {
		if edge != nil {
			return edge
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
