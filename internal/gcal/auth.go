package gcal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	appLog "freebusy/internal/log"
)

// LoadOAuthConfig reads an "installed app" client secrets file and returns
// a read-only calendar OAuth2 configuration.
func LoadOAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("gcal: read credentials: %w", err)
	}
	oc, err := google.ConfigFromJSON(data, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("gcal: parse credentials: %w", err)
	}
	return oc, nil
}

// Authorize returns an HTTP client carrying a valid token. A stored token is
// reused and refreshed as needed; without one the user is asked to grant
// access through a loopback redirect, with instructions written to prompt.
func Authorize(ctx context.Context, oc *oauth2.Config, store TokenStore, prompt io.Writer) (*http.Client, error) {
	tok, err := store.Load()
	switch {
	case err == nil:
		appLog.Debug("gcal: using stored token", "path", store.Path, "expiry", tok.Expiry)
	case errors.Is(err, ErrNoToken):
		appLog.Info("gcal: no stored token; starting authorization", "path", store.Path)
		tok, err = authorizeInteractive(ctx, oc, prompt)
		if err != nil {
			return nil, err
		}
		if err := store.Save(tok); err != nil {
			return nil, fmt.Errorf("gcal: save token: %w", err)
		}
	default:
		return nil, err
	}

	src := &savingTokenSource{
		base:  oc.TokenSource(ctx, tok),
		store: store,
		last:  tok.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

// authorizeInteractive runs the installed-app flow: a one-shot HTTP server on
// a random loopback port receives the authorization code.
func authorizeInteractive(ctx context.Context, oc *oauth2.Config, prompt io.Writer) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("gcal: listen for redirect: %w", err)
	}

	cfg := *oc
	cfg.RedirectURL = "http://" + ln.Addr().String() + "/"
	state := uuid.NewString()

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		if e := q.Get("error"); e != "" {
			http.Error(w, "authorization failed: "+e, http.StatusBadRequest)
			select {
			case errCh <- fmt.Errorf("gcal: authorization denied: %s", e):
			default:
			}
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, "Authorization complete. You can close this window.\n")
		select {
		case codeCh <- code:
		default:
		}
	})}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("gcal: redirect listener failed", err)
		}
	}()
	defer srv.Close()

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
	fmt.Fprintf(prompt, "Open this URL in your browser to grant read-only calendar access:\n\n  %s\n\n", authURL)

	select {
	case code := <-codeCh:
		tok, err := cfg.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("gcal: exchange code: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
