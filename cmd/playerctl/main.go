// Package main provides the playback control CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/nowplaying/internal/api/connect"
)

var (
	app    = kingpin.New("playerctl", "nowplaying playback control client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Control token").Envar("CONTROL_TOKEN").String()

	connectCmd = app.Command("connect", "Connect the playback engine")
	releaseCmd = app.Command("release", "Release the playback engine")

	playCmd   = app.Command("play", "Play a single track")
	playTrack = playCmd.Arg("track", "Spotify track ID/URI or track JSON").Required().String()

	playListCmd      = app.Command("play-list", "Replace the queue and start playing")
	playListFile     = playListCmd.Flag("file", "JSON file with an array of tracks").ExistingFile()
	playListPlaylist = playListCmd.Flag("playlist", "Spotify playlist URL or URI").String()
	playListStart    = playListCmd.Flag("start", "Index of the first track").Default("0").Int()

	pauseCmd  = app.Command("pause", "Pause playback")
	resumeCmd = app.Command("resume", "Resume playback")
	stopCmd   = app.Command("stop", "Stop playback")
	nextCmd   = app.Command("next", "Skip to the next track")
	prevCmd   = app.Command("prev", "Skip to the previous track")

	seekCmd = app.Command("seek", "Seek within the current track")
	seekTo  = seekCmd.Arg("position", "Position (e.g. 1m30s)").Required().Duration()

	repeatCmd  = app.Command("repeat", "Set the repeat mode")
	repeatMode = repeatCmd.Arg("mode", "Repeat mode").Required().Enum("off", "one", "all")

	shuffleCmd     = app.Command("shuffle", "Enable or disable shuffle")
	shuffleEnabled = shuffleCmd.Arg("enabled", "on or off").Required().Enum("on", "off")

	queueCmd  = app.Command("queue", "Show the queue")
	statusCmd = app.Command("status", "Show session status")
	watchCmd  = app.Command("watch", "Stream playback snapshots")
	eventsCmd = app.Command("events", "Stream playback events")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewClient(http.DefaultClient, *server, *token)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case connectCmd.FullCommand():
		err = printStatusOf(client.Connect(ctx))
	case releaseCmd.FullCommand():
		err = printStatusOf(client.Release(ctx))
	case playCmd.FullCommand():
		err = play(ctx, client, *playTrack)
	case playListCmd.FullCommand():
		err = playList(ctx, client)
	case pauseCmd.FullCommand():
		err = submit(ctx, client, &apiconnect.Command{Kind: "pause"})
	case resumeCmd.FullCommand():
		err = submit(ctx, client, &apiconnect.Command{Kind: "resume"})
	case stopCmd.FullCommand():
		err = submit(ctx, client, &apiconnect.Command{Kind: "stop"})
	case nextCmd.FullCommand():
		err = submit(ctx, client, &apiconnect.Command{Kind: "skip_next"})
	case prevCmd.FullCommand():
		err = submit(ctx, client, &apiconnect.Command{Kind: "skip_previous"})
	case seekCmd.FullCommand():
		err = submit(ctx, client, &apiconnect.Command{Kind: "seek_to", PositionMS: seekTo.Milliseconds()})
	case repeatCmd.FullCommand():
		err = submit(ctx, client, &apiconnect.Command{Kind: "set_repeat", Repeat: *repeatMode})
	case shuffleCmd.FullCommand():
		err = submit(ctx, client, &apiconnect.Command{Kind: "set_shuffle", Shuffle: *shuffleEnabled == "on"})
	case queueCmd.FullCommand():
		err = showQueue(ctx, client)
	case statusCmd.FullCommand():
		err = printStatusOf(client.GetStatus(ctx))
	case watchCmd.FullCommand():
		err = watch(ctx, client)
	case eventsCmd.FullCommand():
		err = events(ctx, client)
	}

	if err != nil && ctx.Err() == nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func submit(ctx context.Context, client *apiconnect.Client, cmd *apiconnect.Command) error {
	id, err := client.Submit(ctx, cmd)
	if err != nil {
		return err
	}
	fmt.Printf("Accepted: %s (command_id=%s)\n", cmd.Kind, id)
	return nil
}

func play(ctx context.Context, client *apiconnect.Client, arg string) error {
	t, err := parseTrack(arg)
	if err != nil {
		return err
	}
	return submit(ctx, client, &apiconnect.Command{Kind: "play", Track: &t})
}

// parseTrack accepts a track JSON object or a Spotify track ID/URI.
// Bare Spotify references are resolved by the server.
func parseTrack(arg string) (apiconnect.Track, error) {
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(arg, "{") {
		var t apiconnect.Track
		if err := json.Unmarshal([]byte(arg), &t); err != nil {
			return apiconnect.Track{}, fmt.Errorf("invalid track JSON: %w", err)
		}
		return t, nil
	}

	id := arg
	if i := strings.LastIndex(arg, ":"); i >= 0 {
		id = arg[i+1:]
	}
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	if i := strings.Index(id, "?"); i >= 0 {
		id = id[:i]
	}
	if id == "" {
		return apiconnect.Track{}, fmt.Errorf("invalid track reference: %s", arg)
	}
	return apiconnect.Track{ID: id, MediaRef: "spotify:track:" + id}, nil
}

func playList(ctx context.Context, client *apiconnect.Client) error {
	cmd := &apiconnect.Command{Kind: "play_list", StartIndex: *playListStart}

	switch {
	case *playListPlaylist != "":
		cmd.PlaylistRef = *playListPlaylist
	case *playListFile != "":
		data, err := os.ReadFile(*playListFile)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &cmd.Items); err != nil {
			return fmt.Errorf("invalid tracks file: %w", err)
		}
	default:
		return fmt.Errorf("either --file or --playlist is required")
	}

	return submit(ctx, client, cmd)
}

func showQueue(ctx context.Context, client *apiconnect.Client) error {
	q, err := client.GetQueue(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Repeat: %s  Shuffle: %v  Total: %s\n", q.Repeat, q.Shuffle, formatMS(q.TotalDurationMS))
	if len(q.Items) == 0 {
		fmt.Println("(queue is empty)")
		return nil
	}
	for i, t := range q.Items {
		marker := "  "
		if i == q.CurrentIndex {
			marker = "▶ "
		}
		fmt.Printf("%s%3d. %s [%s]\n", marker, i+1, formatTrack(&t), formatMS(t.DurationMS))
	}
	return nil
}

func printStatusOf(s *apiconnect.Status, err error) error {
	if err != nil {
		return err
	}

	fmt.Println("=== Session Status ===")
	fmt.Printf("  Session ID: %s\n", s.SessionID)
	fmt.Printf("  Generation: %s\n", s.GenerationID)
	fmt.Printf("  State: %s\n", formatSession(s.Session))
	fmt.Printf("  Pending Commands: %d\n", s.Pending)
	fmt.Printf("  Executed: %d  Failed: %d  Dropped: %d\n", s.Executed, s.Failed, s.Dropped)
	fmt.Printf("  Subscribers: %d\n", s.SubscriberCount)
	return nil
}

func watch(ctx context.Context, client *apiconnect.Client) error {
	stream, err := client.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	fmt.Println("Watching playback. Press Ctrl+C to exit.")
	for stream.Receive() {
		s := stream.Msg()
		state := "⏸ "
		if s.Playing {
			state = "▶️ "
		}
		fmt.Printf("[%s] %s %s %s / %s\n",
			time.UnixMilli(s.TimestampMS).Format(time.TimeOnly),
			formatSession(s.Session), state+formatTrack(s.Track),
			formatMS(s.PositionMS), formatMS(s.DurationMS))
	}
	return stream.Err()
}

func events(ctx context.Context, client *apiconnect.Client) error {
	stream, err := client.SubscribeEvents(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	fmt.Println("Subscribed to events. Press Ctrl+C to exit.")
	for stream.Receive() {
		e := stream.Msg()
		fmt.Printf("\n[Seq: %d] === %s ===\n", e.Seq, strings.ToUpper(e.Type))
		fmt.Printf("  At: %s\n", time.UnixMilli(e.AtMS).Format(time.TimeOnly))
		fmt.Printf("  State: %s\n", formatSession(e.Session))
		if e.Track != nil {
			fmt.Printf("  Track: %s\n", formatTrack(e.Track))
			fmt.Printf("  Position: %s\n", formatMS(e.PositionMS))
		}
		if e.Count > 0 {
			fmt.Printf("  Count: %d\n", e.Count)
		}
	}
	return stream.Err()
}

func formatSession(s apiconnect.SessionState) string {
	if s.Reason != "" {
		return fmt.Sprintf("%s (%s)", s.Phase, s.Reason)
	}
	return s.Phase
}

func formatTrack(t *apiconnect.Track) string {
	if t == nil {
		return "-"
	}
	name := t.Title
	if name == "" {
		name = t.ID
	}
	if t.Artist != "" {
		return name + " - " + t.Artist
	}
	return name
}

func formatMS(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
