package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/heavenideas/dojo-server-go/internal/game"
	"github.com/heavenideas/dojo-server-go/internal/persistence"
	"github.com/heavenideas/dojo-server-go/internal/room/remote"
	"github.com/heavenideas/dojo-server-go/internal/roomsync"
	"github.com/heavenideas/dojo-server-go/internal/session"
	"github.com/heavenideas/dojo-server-go/internal/timeline"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Open a match and play it from the command line",
	Long: `Open a match, either resuming the saved session under --key or dealing the
decks given with --deck1 and --deck2. With --server and --room the table is
shared with the other player through the relay.`,
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)
	playCmd.Flags().String("server", clientEnv.Server, "relay gRPC address")
	playCmd.Flags().String("room", clientEnv.Room, "room to join on the relay")
	playCmd.Flags().Int("seat", clientEnv.Seat, "your seat, 1 or 2")
	playCmd.Flags().String("launch", "", "launch query such as ?room=abc&p=2, overrides --room and --seat")
	playCmd.Flags().String("key", "", "saved session key (defaults to the room, or \"local\")")
	playCmd.Flags().String("deck1", "", "JSON file with player 1's card ids")
	playCmd.Flags().String("deck2", "", "JSON file with player 2's card ids")
	playCmd.Flags().Bool("new", false, "deal a new match even when a saved session exists")
	playCmd.Flags().Bool("autosave-on-turn", clientEnv.AutoSaveOnTurn, "bookmark the start of every turn")
	playCmd.Flags().Duration("echo-window", clientEnv.EchoWindow, "how long own room notifications are ignored")
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cards, err := loadCatalog(cmd)
	if err != nil {
		return err
	}
	docs, err := openDocuments(cmd)
	if err != nil {
		return err
	}
	defer docs.Close()

	params := session.LaunchParams{}
	params.Room, _ = cmd.Flags().GetString("room")
	params.Seat, _ = cmd.Flags().GetInt("seat")
	if launch, _ := cmd.Flags().GetString("launch"); launch != "" {
		params = session.ParseLaunchParams(launch)
	}
	if params.Seat != 1 && params.Seat != 2 {
		params.Seat = 1
	}

	key, _ := cmd.Flags().GetString("key")
	if key == "" {
		key = params.Room
	}
	if key == "" {
		key = "local"
	}

	autoSave, _ := cmd.Flags().GetBool("autosave-on-turn")
	if !explicit(cmd, "autosave-on-turn", "DOJO_AUTOSAVE_ON_TURN") {
		autoSave = cfg.Timeline.AutoSaveOnTurn
	}
	sess := session.New(cards, logger.Named("session"),
		session.WithHistoryCapacity(cfg.History.Capacity),
		session.WithTimelineOptions(timeline.WithAutoSaveCapacity(cfg.Timeline.AutoSaveCapacity)),
		session.WithAutoSaveOnTurn(autoSave),
		session.WithPersistence(docs, key, cfg.Storage.Debounce),
	)
	defer sess.Close()

	out := cmd.OutOrStdout()
	fresh, _ := cmd.Flags().GetBool("new")
	if err := openMatch(ctx, cmd, sess, docs, key, fresh); err != nil {
		return err
	}

	server, _ := cmd.Flags().GetString("server")
	if server != "" && params.Room != "" {
		store, err := remote.Dial(server, logger.Named("remote"))
		if err != nil {
			return err
		}
		defer store.Close()

		window, _ := cmd.Flags().GetDuration("echo-window")
		if !explicit(cmd, "echo-window", "DOJO_ECHO_WINDOW") {
			window = cfg.Sync.EchoWindow
		}
		ch := roomsync.New(store, logger.Named("sync"),
			roomsync.WithEchoWindow(window),
			roomsync.WithPublishTimeout(cfg.Sync.PublishTimeout),
		)
		defer ch.Close()

		adopted, err := sess.JoinRoom(ctx, ch, params.Room)
		if err != nil {
			fmt.Fprintf(out, "playing offline, could not join room %s: %v\n", params.Room, err)
		} else {
			if adopted {
				fmt.Fprintf(out, "joined room %s and loaded its match\n", params.Room)
			} else {
				fmt.Fprintf(out, "opened room %s with this match\n", params.Room)
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := ch.Flush(flushCtx); err != nil {
					logger.Warn("room publish still pending at exit", zap.Error(err))
				}
			}()
		}
	}

	handle := sess.Events().SubscribeTyped(game.EventRemoteApplied, func(ev game.Event) {
		fmt.Fprintf(out, "\nthe other player changed the board (turn %d)\ndojo> ", ev.Turn)
	})
	defer sess.Events().Unsubscribe(handle)

	fmt.Fprintf(out, "seat %d, session %q, type help for commands\n", params.Seat, key)
	r := &repl{sess: sess, cards: cards, seat: params.SeatIndex(), out: out}
	printBoard(out, sess.State(), cards, r.seat)
	return r.run(cmd.InOrStdin())
}

// openMatch resumes the saved session under key, or deals the configured
// decks when there is none or a new match was asked for.
func openMatch(ctx context.Context, cmd *cobra.Command, sess *session.MatchSession, docs *persistence.Store, key string, fresh bool) error {
	if !fresh {
		body, err := docs.Load(ctx, key)
		switch {
		case err == nil:
			if err := sess.Import(body); err != nil {
				return fmt.Errorf("resume %s: %w", key, err)
			}
			return nil
		case !errors.Is(err, persistence.ErrNotFound):
			return err
		}
	}

	path1, _ := cmd.Flags().GetString("deck1")
	path2, _ := cmd.Flags().GetString("deck2")
	if path1 == "" && path2 == "" {
		return nil
	}
	deck1, err := readDeck(path1)
	if err != nil {
		return err
	}
	deck2, err := readDeck(path2)
	if err != nil {
		return err
	}
	sess.StartGame(deck1, deck2)
	return nil
}

// readDeck reads a JSON array of card ids. An empty path is an empty deck.
func readDeck(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deck: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode deck %s: %w", path, err)
	}
	return ids, nil
}
