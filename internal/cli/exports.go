// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/shrimpy8/ollama-chat-interface/internal/storage"
	"github.com/shrimpy8/ollama-chat-interface/internal/util"
)

const defaultExportsLimit = 20

// runExports browses the export archive.
func runExports(app *App, args Args) error {
	path, err := app.Cfg.ArchivePath()
	if err != nil {
		return err
	}
	archive, err := storage.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archive.Close()
	return exportsCommand(app, args.Parser, archive)
}

func exportsCommand(app *App, p *ArgParser, archive *storage.Archive) error {
	ctx := context.Background()
	switch sub := p.Subcommand(); sub {
	case "", "list", "ls":
		limit := defaultExportsLimit
		if p.HasFlag("limit") {
			n, err := p.FlagInt("limit")
			if err != nil {
				return err
			}
			limit = n
		}
		entries, err := archive.List(ctx, limit)
		if err != nil {
			return err
		}
		return printExportList(app, entries)

	case "show", "get":
		id := p.Positional(1)
		if id == "" {
			return fmt.Errorf("usage: exports show <id> [--out file]")
		}
		entry, err := archive.Get(ctx, id)
		if err != nil {
			return err
		}
		if out := p.Flag("out", "o"); out != "" {
			if err := util.AtomicWriteFile(out, entry.Content, 0644); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "%s %s\n", render(SuccessStyle, "Wrote"), out)
			return nil
		}
		if entry.Format == "json" {
			fmt.Fprint(app.Out, highlightJSON(entry.Content))
		} else {
			app.Out.Write(entry.Content)
		}
		if !strings.HasSuffix(string(entry.Content), "\n") {
			fmt.Fprintln(app.Out)
		}
		return nil

	case "prune":
		keep := storage.DefaultMaxEntries
		if p.HasFlag("keep") {
			n, err := p.FlagInt("keep")
			if err != nil {
				return err
			}
			keep = n
		}
		removed, err := archive.Prune(ctx, keep)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.Out, "Removed %d export(s)\n", removed)
		return nil

	default:
		return fmt.Errorf("unknown exports subcommand %q (list, show, prune)", sub)
	}
}

func printExportList(app *App, entries []storage.Entry) error {
	if app.JSON {
		data, err := marshalIndent(entries)
		if err != nil {
			return err
		}
		fmt.Fprint(app.Out, highlightJSON(data))
		return nil
	}

	if len(entries) == 0 {
		fmt.Fprintln(app.Out, render(DimStyle, "No exports archived yet."))
		return nil
	}
	fmt.Fprintln(app.Out, render(SectionStyle, fmt.Sprintf("%-36s  %-16s  %-8s  %5s  %8s  %s", "ID", "CREATED", "FORMAT", "TURNS", "SIZE", "FILE")))
	for _, e := range entries {
		fmt.Fprintf(app.Out, "%-36s  %-16s  %-8s  %5d  %8s  %s\n",
			e.ID,
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.Format,
			e.ExchangeCount,
			humanize.Bytes(uint64(e.Size())),
			e.Filename)
	}
	return nil
}
