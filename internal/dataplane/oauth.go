package dataplane

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuthRefresher exchanges a bot's long-lived refresh credential for a new
// short-lived access credential against the upstream chat service's OAuth
// endpoint (spec §4.5, Bot.refresh_credential/access_credential in §3).
type OAuthRefresher struct {
	cfg clientcredentials.Config
}

// NewOAuthRefresher builds a refresher against tokenURL using clientID and
// clientSecret, the OAuth2 client-credentials grant
// (golang.org/x/oauth2/clientcredentials, grounded on 88lin-divinesense's
// dependency on golang.org/x/oauth2).
func NewOAuthRefresher(tokenURL, clientID, clientSecret string) *OAuthRefresher {
	return &OAuthRefresher{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
		},
	}
}

// Refresh exchanges refreshCredential (passed as an EndpointParams value,
// since the upstream's refresh-token flow is layered on a
// client-credentials-shaped token endpoint) for a new access credential.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshCredential string) (string, error) {
	cfg := r.cfg
	cfg.EndpointParams = map[string][]string{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshCredential},
	}

	token, err := cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("refresh upstream token: %w", err)
	}

	logTokenExpiry(token.AccessToken)
	return token.AccessToken, nil
}

// logTokenExpiry parses the unverified claims of an access token purely to
// log its expiry; the data-plane does not need to validate a token it just
// received directly from the upstream's own token endpoint over TLS.
func logTokenExpiry(accessToken string) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		// Not every upstream issues a JWT access token; this is diagnostic
		// only, so a parse failure is not an error.
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	slog.Debug("dataplane: refreshed upstream access token", "expiresAt", exp.Time, "expiresIn", time.Until(exp.Time).Round(time.Second))
}
