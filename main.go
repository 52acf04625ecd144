package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/benbjohnson/clock"
	_ "github.com/lib/pq"

	"github.com/danielhkuo/watchlobby/channel"
	"github.com/danielhkuo/watchlobby/cliparse"
	"github.com/danielhkuo/watchlobby/models"
	"github.com/danielhkuo/watchlobby/session"
	"github.com/danielhkuo/watchlobby/statusapi"
	"github.com/danielhkuo/watchlobby/store"
)

func main() {
	// Parse configuration
	cfg, err := cliparse.ParseFlags(os.Args[1:])
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(1)
	}

	// Connect to PostgreSQL
	dbConn, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	if err := dbConn.Ping(); err != nil {
		slog.Error("database ping failed", "error", err)
		os.Exit(1)
	}

	if err := store.CreateSchema(dbConn); err != nil {
		slog.Error("schema creation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database schema ready")

	st := store.New(dbConn)
	ctx := context.Background()

	exited := make(chan string, 1)
	sess := session.New(session.Config{
		RoomID:   cfg.RoomID,
		SelfID:   cfg.UserID,
		SelfName: cfg.Username,
		IsHost:   cfg.IsHost,
	}, clock.New(), slog.Default(), st, stubPlayer{}, func(reason string) {
		exited <- reason
	})

	ch, err := channel.Dial(ctx, cfg.ChannelURL, channel.Meta{
		UserID:   cfg.UserID,
		Username: cfg.Username,
		IsHost:   cfg.IsHost,
	}, slog.Default(), sess.SetStatus)
	if err != nil {
		slog.Error("channel dial failed", "error", err)
		os.Exit(1)
	}

	if err := sess.Start(ctx, ch); err != nil {
		slog.Error("session start failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Joined room", "room", cfg.RoomID, "host", cfg.IsHost)

	// Row-change notifications ride the same Postgres connection string.
	listener, err := store.NewListener(cfg.DatabaseURL, slog.Default())
	if err != nil {
		slog.Warn("room change listener unavailable, relying on polling", "error", err)
	} else {
		defer listener.Close()
		go listener.Run(ctx, sess.HandleRoomChange)
	}

	// Optional local status API
	if cfg.StatusPort > 0 {
		server := &http.Server{
			Handler: statusapi.NewHandler(sess),
			Addr:    ":" + strconv.Itoa(cfg.StatusPort),
		}
		go func() {
			slog.Info("Status API listening", "port", cfg.StatusPort)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("status API closed", "error", err)
			}
		}()
		defer server.Close()
	}

	// signal.Notify requires the channel to be buffered
	ctrlc := make(chan os.Signal, 1)
	signal.Notify(ctrlc, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctrlc:
		slog.Info("Shutting down")
		sess.Leave(ctx)
	case reason := <-exited:
		slog.Info("Session ended", "reason", reason)
	}
}

// stubPlayer stands in for the proprietary stream resolver and media
// pipeline, which are out of scope for the coordination engine.
type stubPlayer struct{}

func (stubPlayer) Prepare(_ context.Context, s models.StreamDescriptor) error {
	slog.Info("prepare stream", "hash", s.Hash, "title", s.Title)
	return nil
}

func (stubPlayer) Start(_ context.Context, s models.StreamDescriptor, offset float64) error {
	slog.Info("start playback", "hash", s.Hash, "offset", offset)
	return nil
}
