package qobuz

import (
	"context"
	"regexp"
	"strings"

	"crescendo/internal/provider"
)

// The web player login page references a versioned bundle.js; the production
// app credentials are embedded in that bundle.
var (
	bundlePathRe = regexp.MustCompile(`<script src="(/resources/\d+\.\d+\.\d+-[a-z]\d{3}/bundle\.js)"`)
	appIDRe      = regexp.MustCompile(`production:\{api:\{appId:"(\d+)"`)
	appSecretRe  = regexp.MustCompile(`appSecret:"([0-9a-f]{32})"`)
)

// FetchAppCredentials scrapes the app id and secret out of the web player
// bundle so the proxy works without registered API credentials.
func FetchAppCredentials(ctx context.Context, baseURL string) (appID, appSecret string, err error) {
	client := provider.NewClient(Name, nil)

	page, err := client.GetBody(ctx, strings.TrimRight(baseURL, "/")+"/login", nil)
	if err != nil {
		return "", "", provider.Errf(provider.KindTransient, Name, "fetching login page: %v", err)
	}
	m := bundlePathRe.FindSubmatch(page)
	if m == nil {
		return "", "", provider.Errf(provider.KindTransient, Name, "login page has no bundle reference")
	}

	bundle, err := client.GetBody(ctx, strings.TrimRight(baseURL, "/")+string(m[1]), nil)
	if err != nil {
		return "", "", provider.Errf(provider.KindTransient, Name, "fetching bundle: %v", err)
	}

	id := appIDRe.FindSubmatch(bundle)
	if id == nil {
		return "", "", provider.Errf(provider.KindTransient, Name, "bundle has no production app id")
	}
	secret := appSecretRe.FindSubmatch(bundle)
	if secret == nil {
		return "", "", provider.Errf(provider.KindTransient, Name, "bundle has no app secret")
	}
	return string(id[1]), string(secret[1]), nil
}
