package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const defaultGraphURL = "https://graph.facebook.com/v23.0"

// Exchanged is the outcome of a token exchange. A zero ExpiresIn means the
// upstream did not report a lifetime.
type Exchanged struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// Exchanger trades a current access token for a renewed one.
type Exchanger interface {
	Exchange(ctx context.Context, current string) (*Exchanged, error)
}

// ExchangerConfig configures the Graph API long-lived token exchange.
type ExchangerConfig struct {
	AppID      string
	AppSecret  string
	GraphURL   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// GraphExchanger renews long-lived tokens with the fb_exchange_token grant.
type GraphExchanger struct {
	config  *oauth2.Config
	client  *http.Client
	timeout time.Duration
}

// NewGraphExchanger returns nil when the app credentials are missing.
func NewGraphExchanger(cfg ExchangerConfig) *GraphExchanger {
	if strings.TrimSpace(cfg.AppID) == "" || strings.TrimSpace(cfg.AppSecret) == "" {
		return nil
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.GraphURL), "/")
	if base == "" {
		base = defaultGraphURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &GraphExchanger{
		config: &oauth2.Config{
			ClientID:     cfg.AppID,
			ClientSecret: cfg.AppSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  base + "/oauth/access_token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client:  cfg.HTTPClient,
		timeout: cfg.Timeout,
	}
}

// Exchange implements Exchanger.
func (g *GraphExchanger) Exchange(ctx context.Context, current string) (*Exchanged, error) {
	if strings.TrimSpace(current) == "" {
		return nil, errors.New("token exchange: current token is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if g.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	}

	token, err := g.config.Exchange(ctx, "",
		oauth2.SetAuthURLParam("grant_type", "fb_exchange_token"),
		oauth2.SetAuthURLParam("fb_exchange_token", current),
	)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, fmt.Errorf("token exchange: upstream returned %d: %s", retrieveErr.Response.StatusCode, strings.TrimSpace(string(retrieveErr.Body)))
		}
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	out := &Exchanged{AccessToken: token.AccessToken}
	if !token.Expiry.IsZero() {
		out.ExpiresIn = time.Until(token.Expiry)
	}
	return out, nil
}
