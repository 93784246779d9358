// Command gdrive-auth runs the OAuth consent flow once and prints the refresh
// token the API and worker use for the gdrive storage provider.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"

	"vidrender/internal/pkg/logger"
	"vidrender/internal/worker/util"
)

const authTimeout = 3 * time.Minute

// callback is the outcome of the browser redirect.
type callback struct {
	code string
	err  error
}

func main() {
	log := logger.New(logger.Config{Level: "info", Format: "text", ServiceName: "gdrive-auth"})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.LogFatal("listen failed", err)
	}
	conf := &oauth2.Config{
		ClientID:     util.MustEnv("GDRIVE_CLIENT_ID"),
		ClientSecret: util.MustEnv("GDRIVE_CLIENT_SECRET"),
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
		RedirectURL:  fmt.Sprintf("http://%s/callback", ln.Addr()),
	}

	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()

	tok, err := authorize(ctx, conf, ln)
	if err != nil {
		log.LogFatal("authorization failed", err)
	}
	if strings.TrimSpace(tok.RefreshToken) == "" {
		log.Warn("no refresh token returned; revoke the app at https://myaccount.google.com/permissions and run again")
		return
	}
	fmt.Printf("\nGDRIVE_REFRESH_TOKEN=%s\n", tok.RefreshToken)
}

// authorize serves the redirect on ln, prints the consent URL and exchanges
// the returned code. Offline access with forced consent makes Google issue
// a refresh token.
func authorize(ctx context.Context, conf *oauth2.Config, ln net.Listener) (*oauth2.Token, error) {
	state := randomState()
	verifier := oauth2.GenerateVerifier()
	results := make(chan callback, 1)

	mux := http.NewServeMux()
	mux.Handle("/callback", callbackHandler(state, results))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	url := conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.S256ChallengeOption(verifier),
	)
	fmt.Printf("\nOpen this URL in your browser:\n\n%s\n\nWaiting for authorization on %s\n", url, conf.RedirectURL)

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for consent: %w", ctx.Err())
	case res := <-results:
		if res.err != nil {
			return nil, res.err
		}
		return conf.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	}
}

// callbackHandler reports the first redirect for state on results and
// ignores later ones.
func callbackHandler(state string, results chan<- callback) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res := callback{code: q.Get("code")}
		switch {
		case q.Get("state") != state:
			res.err = errors.New("state mismatch")
		case q.Get("error") != "":
			res.err = fmt.Errorf("consent refused: %s", q.Get("error"))
		case res.code == "":
			res.err = errors.New("redirect carried no code")
		}

		if res.err != nil {
			http.Error(w, res.err.Error(), http.StatusBadRequest)
		} else {
			fmt.Fprintln(w, "Authorized. You can close this window and return to the terminal.")
		}
		select {
		case results <- res:
		default:
		}
	})
}

func randomState() string {
	b := make([]byte, 18)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
