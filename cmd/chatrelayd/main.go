// Command chatrelayd runs the chat relay daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/askdesk/chatrelay"
)

func main() {
	configPath := flag.String("config", "chatrelay.toml", "path to configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*configPath, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := chatrelay.LoadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := chatrelay.OpenSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	var feed chatrelay.Feed
	if cfg.RedisAddr != "" {
		feed = chatrelay.NewRedisFeed(context.Background(), cfg.RedisAddr, cfg.FeedChannel)
	} else {
		feed = chatrelay.NewLocalFeed()
	}
	defer feed.Close()

	server := chatrelay.NewServer(cfg, store, feed, logger)
	return server.Listen()
}
