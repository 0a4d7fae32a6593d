package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/meshmeet/meshmeet/internal/client"
	"github.com/meshmeet/meshmeet/internal/client/prefs"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "Base URL of the meeting server")
	room := flag.String("room", "", "Room id to join; a fresh one is generated when empty")
	name := flag.String("name", "", "Display name; falls back to the stored preference")
	mic := flag.Bool("mic", true, "Announce the microphone as on")
	cam := flag.Bool("cam", false, "Announce the camera as on")
	autoApprove := flag.Bool("auto-approve", false, "As host, admit everyone who asks to join")
	prefsPath := flag.String("prefs", defaultPrefsPath(), "Path to the preferences database")
	debug := flag.Bool("debug", false, "Verbose logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*server, *room, *name, *mic, *cam, *autoApprove, *prefsPath, logger); err != nil {
		logger.Error("session ended", "error", err)
		os.Exit(1)
	}
}

func run(server, room, name string, mic, cam, autoApprove bool, prefsPath string, logger *slog.Logger) error {
	if dir := filepath.Dir(prefsPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create preferences directory: %w", err)
		}
	}
	store, err := prefs.Open(prefsPath)
	if err != nil {
		return fmt.Errorf("open preferences: %w", err)
	}
	stored, err := store.Load()
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}

	if name == "" {
		name = stored.DisplayName
	}
	if room == "" {
		room, err = gonanoid.Generate("abcdefghijklmnopqrstuvwxyz0123456789", 10)
		if err != nil {
			return fmt.Errorf("generate room id: %w", err)
		}
		fmt.Printf("Room: %s\n", room)
	}

	stored.DisplayName = name
	stored.MicOn = mic
	stored.CamOn = cam
	stored.LastRoomID = room
	if err := store.Save(stored); err != nil {
		logger.Warn("preferences not saved", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := client.NewSession(client.Options{
		ServerURL:   server,
		RoomID:      room,
		Name:        name,
		Mic:         mic,
		Cam:         cam,
		AutoApprove: autoApprove,
	}, logger)

	err = session.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("left meeting")
		return nil
	}
	return err
}

func defaultPrefsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "meshmeet.db"
	}
	return filepath.Join(home, ".meshmeet", "prefs.db")
}
