// Command digestctl is the one-shot CLI: it wires the same pipeline as
// digestd but drives a single Request Plane operation named on the
// command line and exits.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"

	"newsdigest/internal/app"
	"newsdigest/internal/config"
	"newsdigest/internal/model"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx := context.Background()
	logger := slog.Default()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	defer a.Close()

	args := os.Args[2:]
	switch os.Args[1] {
	case "scrape":
		windowHours := intArg(args, 0, cfg.Pipeline.WindowHours)
		rec, err := a.Plane.Scrape(ctx, windowHours)
		exitOn(err)
		printJSON(rec)

	case "run":
		windowHours := intArg(args, 0, cfg.Pipeline.WindowHours)
		topN := intArg(args, 1, cfg.Pipeline.TopN)
		rec, err := a.Plane.Run(ctx, windowHours, topN, cfg.Email.SkipEmail)
		exitOn(err)
		printJSON(rec)

	case "send_digest":
		windowHours := intArg(args, 0, cfg.Pipeline.WindowHours)
		topN := intArg(args, 1, cfg.Pipeline.TopN)
		recipient := strArg(args, 2, "")
		subject := strArg(args, 3, "")
		res, err := a.Plane.SendDigest(ctx, windowHours, topN, recipient, subject)
		exitOn(err)
		printJSON(res)

	case "search":
		if len(args) < 1 {
			log.Fatal("usage: digestctl search <query> [k] [category]")
		}
		query := args[0]
		k := intArg(args[1:], 0, 10)
		category := model.Category(strArg(args[1:], 1, ""))
		hits, err := a.Plane.Search(ctx, query, k, category)
		exitOn(err)
		printJSON(hits)

	case "list_summaries":
		windowHours := intArg(args, 0, cfg.Pipeline.WindowHours)
		page := intArg(args, 1, 1)
		pageSize := intArg(args, 2, 20)
		out, err := a.Plane.ListSummaries(ctx, windowHours, page, pageSize)
		exitOn(err)
		printJSON(out)

	case "stats":
		out, err := a.Plane.Stats(ctx)
		exitOn(err)
		printJSON(out)

	case "get_items":
		if len(args) < 1 {
			log.Fatal("usage: digestctl get_items <video|web> [limit]")
		}
		kind := model.ArticleKind(args[0])
		limit := intArg(args[1:], 0, 50)
		items, err := a.Plane.GetItems(ctx, kind, limit)
		exitOn(err)
		printJSON(items)

	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: digestctl <scrape|run|send_digest|search|list_summaries|stats|get_items> [args...]")
}

func exitOn(err error) {
	if err != nil {
		log.Fatalf("%v", err)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("encode output: %v", err)
	}
}

func intArg(args []string, i, def int) int {
	if i >= len(args) || args[i] == "" {
		return def
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		log.Fatalf("argument %d: %v", i, err)
	}
	return n
}

func strArg(args []string, i int, def string) string {
	if i >= len(args) {
		return def
	}
	return args[i]
}
