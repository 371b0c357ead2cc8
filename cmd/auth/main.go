// Package main provides the authentication tool for Spotify and Last.fm.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/osa030/nowplaying/internal/infra/lastfm"
	"github.com/osa030/nowplaying/internal/infra/spotify"
)

var (
	app = kingpin.New("nowplaying-auth", "Authentication tool for nowplaying")

	spotifyCmd   = app.Command("spotify", "Obtain a Spotify refresh token").Default()
	clientID     = spotifyCmd.Flag("client-id", "Spotify Client ID").Envar("SPOTIFY_CLIENT_ID").Required().String()
	clientSecret = spotifyCmd.Flag("client-secret", "Spotify Client Secret").Envar("SPOTIFY_CLIENT_SECRET").Required().String()
	port         = spotifyCmd.Flag("port", "Callback server port").Default("8888").Int()

	lastfmCmd       = app.Command("lastfm", "Obtain a Last.fm session key")
	lastfmAPIKey    = lastfmCmd.Flag("api-key", "Last.fm API key").Envar("LASTFM_API_KEY").Required().String()
	lastfmAPISecret = lastfmCmd.Flag("api-secret", "Last.fm API secret").Envar("LASTFM_API_SECRET").Required().String()

	auth  *spotifyauth.Authenticator
	ch    = make(chan *oauth2.Token)
	state = "nowplaying-auth-state"
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	switch kingpin.MustParse(app.Parse(os.Args[1:])) {
	case spotifyCmd.FullCommand():
		authSpotify()
	case lastfmCmd.FullCommand():
		authLastFM()
	}
}

func authSpotify() {
	// Build redirect URI with custom port
	customRedirectURI := fmt.Sprintf("http://127.0.0.1:%d/callback", *port)

	auth = spotifyauth.New(
		spotifyauth.WithRedirectURL(customRedirectURI),
		spotifyauth.WithClientID(*clientID),
		spotifyauth.WithClientSecret(*clientSecret),
		spotifyauth.WithScopes(spotify.Scopes...),
	)

	// Start HTTP server for callback
	http.HandleFunc("/callback", completeAuth)

	serverAddr := fmt.Sprintf(":%d", *port)
	server := &http.Server{Addr: serverAddr, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	url := auth.AuthURL(state)
	fmt.Println("Please visit the following URL to authorize nowplaying:")
	fmt.Println("")
	fmt.Println(url)
	fmt.Println("")
	fmt.Println("Waiting for authorization...")

	token := <-ch

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Failed to shutdown server: %v", err)
	}

	fmt.Println("")
	fmt.Println("=== Authorization Successful ===")
	fmt.Println("")
	fmt.Println("Refresh Token:")
	fmt.Println(token.RefreshToken)
	fmt.Println("")
	fmt.Println("Add this to your playerd.yaml:")
	fmt.Println("")
	fmt.Println("spotify:")
	fmt.Printf("  refresh_token: \"%s\"\n", token.RefreshToken)
	fmt.Println("")
	fmt.Println("Or set as environment variable:")
	fmt.Printf("export SPOTIFY_REFRESH_TOKEN=\"%s\"\n", token.RefreshToken)
}

// authLastFM runs the desktop authorization flow.
// Reference: https://www.last.fm/api/desktopauth
func authLastFM() {
	client, err := lastfm.New(lastfm.Config{APIKey: *lastfmAPIKey, APISecret: *lastfmAPISecret})
	if err != nil {
		log.Fatalf("Failed to create Last.fm client: %v", err)
	}

	token, err := client.GetToken()
	if err != nil {
		log.Fatalf("Failed to get token: %v", err)
	}

	fmt.Println("Please visit the following URL to authorize nowplaying:")
	fmt.Println("")
	fmt.Println(client.AuthURL(token))
	fmt.Println("")
	fmt.Print("Press Enter after granting access...")
	_, _ = bufio.NewReader(os.Stdin).ReadString('\n')

	sessionKey, err := client.SessionFromToken(token)
	if err != nil {
		log.Fatalf("Failed to get session key: %v", err)
	}

	fmt.Println("")
	fmt.Println("=== Authorization Successful ===")
	fmt.Println("")
	fmt.Println("Session Key:")
	fmt.Println(sessionKey)
	fmt.Println("")
	fmt.Println("Add this to your playerd.yaml:")
	fmt.Println("")
	fmt.Println("presence:")
	fmt.Println("  lastfm:")
	fmt.Printf("    session_key: \"%s\"\n", sessionKey)
	fmt.Println("")
	fmt.Println("Or set as environment variable:")
	fmt.Printf("export LASTFM_SESSION_KEY=\"%s\"\n", sessionKey)
}

func completeAuth(w http.ResponseWriter, r *http.Request) {
	token, err := auth.Token(r.Context(), state, r)
	if err != nil {
		http.Error(w, "Failed to get token", http.StatusForbidden)
		log.Printf("Failed to get token: %v", err)
		return
	}

	if st := r.FormValue("state"); st != state {
		http.Error(w, "State mismatch", http.StatusForbidden)
		log.Printf("State mismatch: %s != %s", st, state)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, authCompletePage)

	ch <- token
}

const authCompletePage = `<!DOCTYPE html>
<html>
<head><title>nowplaying - Authorization Complete</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 20vh;">
<h1>Authorization Complete</h1>
<p>You can close this window and return to the terminal.</p>
</body>
</html>
`
