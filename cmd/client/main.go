package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-sync/internal/api"
	"chat-sync/internal/auth"
	"chat-sync/internal/config"
	"chat-sync/internal/database"
	"chat-sync/internal/engine"
	"chat-sync/internal/handlers"
	"chat-sync/internal/services"
	"chat-sync/internal/websocket"
	"chat-sync/pkg/logger"
)

func main() {
	register := flag.Bool("register", false, "register the configured user before logging in")
	room := flag.String("room", "", "room to join on startup")
	transcript := flag.String("transcript", "", "print the archived transcript of a room and exit")
	flag.Parse()

	// Load configuration
	cfg := config.Load()
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional local archive
	var archive database.Archive
	if cfg.Database.URL != "" {
		db, err := database.NewPostgresDB(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to archive database: %v", err)
		}
		defer db.Close()
		archive = db
	}

	if *transcript != "" {
		if archive == nil {
			logger.Fatal("DATABASE_URL is required for -transcript")
		}
		if err := printTranscript(ctx, archive, *transcript); err != nil {
			logger.Fatal("Failed to read transcript: %v", err)
		}
		return
	}

	client, err := api.NewClient(cfg.API.BaseURL, cfg.API.RequestTimeout)
	if err != nil {
		logger.Fatal("Invalid API configuration: %v", err)
	}

	// Initialize services
	authHandlers := handlers.NewAuthHandlers(auth.NewService(client))
	sess, err := authHandlers.Authenticate(ctx, cfg.Session, *register)
	if err != nil {
		logger.Fatal("Authentication failed: %v", err)
	}
	roomService := services.NewRoomService(client)
	presence := services.NewPresence()
	out := handlers.NewTerminalPresenter(os.Stdout)

	channel := websocket.NewChannel(websocket.GorillaDialer{}, client.BaseURL(), websocket.Options{
		PingInterval: cfg.Sync.PingInterval,
		PongWait:     cfg.Sync.PongWait,
	})
	defer channel.Shutdown()

	deps := engine.Deps{
		Channel:   channel,
		Fetcher:   client,
		Poster:    client,
		Deleter:   client,
		Presence:  presence,
		Presenter: out,
	}
	if archive != nil {
		deps.Archive = archive
	}
	eng := engine.New(cfg.Sync, sess, deps)

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Engine stopped: %v", err)
		}
	}()

	rooms, err := roomService.RefreshRooms(ctx, sess)
	if err != nil {
		logger.Warn("Could not load rooms: %v", err)
	} else if archive != nil {
		if err := archive.SaveRooms(ctx, rooms); err != nil {
			logger.Warn("Could not archive rooms: %v", err)
		}
	}

	logger.Info("🚀 Signed in as %s against %s", sess.Username, client.BaseURL())
	commands := handlers.NewCommandHandlers(eng, roomService, presence, sess, out)
	if *room != "" {
		eng.SelectRoom(*room)
	} else if len(rooms) > 0 {
		eng.SelectRoom(string(rooms[0].ID))
	}
	out.Printf("Type /help for commands\n")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			quit, err := commands.Handle(ctx, line)
			if err != nil {
				out.Printf("%v\n", err)
			}
			if quit {
				break loop
			}
		}
	}

	logger.Info("Client shutting down...")
	stop()
	<-engineDone
}

func printTranscript(ctx context.Context, archive database.Archive, roomID string) error {
	msgs, err := archive.LoadRecentMessages(ctx, roomID, 200)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		rooms, err := archive.ListRooms(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("No archived messages for %s. Archived rooms:\n", roomID)
		for _, r := range rooms {
			fmt.Printf("  %s  %s\n", r.ID, r.Name)
		}
		return nil
	}
	now := time.Now()
	for _, m := range msgs {
		fmt.Println(handlers.FormatMessage(m, now))
	}
	return nil
}
