package qobuz

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"crescendo/internal/provider"
)

func TestFetchAppCredentials(t *testing.T) {
	const bundlePath = "/resources/7.1.3-b011/bundle.js"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			fmt.Fprintf(w, `<html><head><script src="%s"></script></head></html>`, bundlePath)
		case bundlePath:
			fmt.Fprint(w, `...production:{api:{appId:"950096963",appSecret:"979549437fcc4a3faad4867b5cd25dcb"}}...`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	appID, secret, err := FetchAppCredentials(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchAppCredentials: %v", err)
	}
	if appID != "950096963" {
		t.Errorf("appID = %q", appID)
	}
	if secret != "979549437fcc4a3faad4867b5cd25dcb" {
		t.Errorf("secret = %q", secret)
	}
}

func TestFetchAppCredentialsNoBundle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>no scripts here</html>`)
	}))
	defer srv.Close()

	_, _, err := FetchAppCredentials(context.Background(), srv.URL)
	if !provider.IsKind(err, provider.KindTransient) {
		t.Fatalf("err = %v", err)
	}
}
