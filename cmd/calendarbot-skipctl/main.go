package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sonroyaalmerol/calendarbot/internal/config"
	"github.com/sonroyaalmerol/calendarbot/internal/logging"
	"github.com/sonroyaalmerol/calendarbot/internal/skipped"
)

func main() {
	var (
		add    string
		remove string
		reason string
		list   bool
	)
	flag.StringVar(&add, "add", "", "Event ID to skip")
	flag.StringVar(&remove, "remove", "", "Event ID to unskip")
	flag.StringVar(&reason, "reason", "", "Reason recorded with -add (optional)")
	flag.BoolVar(&list, "list", false, "List skipped event IDs")
	flag.Parse()

	actions := 0
	if add != "" {
		actions++
	}
	if remove != "" {
		actions++
	}
	if list {
		actions++
	}
	if actions != 1 {
		fmt.Fprintln(os.Stderr, "usage: calendarbot-skipctl (-add <event-id> [-reason <text>] | -remove <event-id> | -list)")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.Debug)
	logger = logger.With().Str("component", "skipctl").Logger()

	store, err := skipped.Open(cfg.Skipped, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store init: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if list {
		ids, err := store.ActiveList(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list: %v\n", err)
			os.Exit(1)
		}
		keys := make([]string, 0, len(ids))
		for id := range ids {
			keys = append(keys, id)
		}
		sort.Strings(keys)
		for _, id := range keys {
			fmt.Printf("%s\t%s\n", id, ids[id])
		}
		return
	}

	// Use type assertion to reach the write capability; the serving core only
	// consumes reads, so the Store interface does not carry Add/Remove.
	switch s := store.(type) {
	case interface {
		Add(ctx context.Context, id, reason string) error
		Remove(ctx context.Context, id string) error
	}:
		if add != "" {
			if err := s.Add(ctx, add, reason); err != nil {
				fmt.Fprintf(os.Stderr, "add: %v\n", err)
				os.Exit(1)
			}
			logger.Info().Str("event_id", add).Str("reason", reason).Msg("event skipped")
			fmt.Printf("Skipped %s\n", add)
		} else {
			if err := s.Remove(ctx, remove); err != nil {
				fmt.Fprintf(os.Stderr, "remove: %v\n", err)
				os.Exit(1)
			}
			logger.Info().Str("event_id", remove).Msg("event unskipped")
			fmt.Printf("Unskipped %s\n", remove)
		}
	default:
		fmt.Fprintf(os.Stderr, "skipped store %q does not support writes\n", cfg.Skipped.Type)
		os.Exit(1)
	}
}
