// Walinspect prints the records of a WAL segment file.
//
// Usage:
//
//	walinspect [-r limit] [-apply] segmentfile...
//
// Additional segment files are treated as continuations of the first,
// so records spanning segment boundaries are reassembled. Exits zero
// after a clean iteration to end of log.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/quay/zlog"
	"github.com/rs/zerolog"

	"github.com/quay/walcore/redo"
	"github.com/quay/walcore/wal"
)

func main() {
	var exit int
	defer func() {
		if exit != 0 {
			os.Exit(exit)
		}
	}()
	ctx := context.Background()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}).
		With().Timestamp().
		Logger()

	fs := flag.NewFlagSet("walinspect", flag.ExitOnError)
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage: %s [flags] segmentfile...\n", os.Args[0])
		fs.PrintDefaults()
	}
	var limit uint64
	fs.Uint64Var(&limit, "record-limit", 0, "stop after this many records (0 means no limit)")
	fs.Uint64Var(&limit, "r", 0, "shorthand for -record-limit")
	apply := fs.Bool("apply", false, "replay heap records into a page map and report its size")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Parse(os.Args[1:])
	if fs.NArg() == 0 {
		fs.Usage()
		exit = 2
		return
	}
	if !*debug {
		log = log.Level(zerolog.InfoLevel)
	}
	zlog.Set(&log)

	if err := run(ctx, fs.Args(), limit, *apply); err != nil {
		zlog.Error(ctx).Err(err).Msg("walinspect failed")
		exit = 1
	}
}

func run(ctx context.Context, paths []string, limit uint64, apply bool) error {
	r, err := wal.Open(paths[0])
	if err != nil {
		return err
	}
	defer r.Close()
	zlog.Info(ctx).
		Stringer("segment", r.Name()).
		Stringer("start", r.StartLSN()).
		Msg("opened segment")

	var pages *redo.PageMap
	if apply {
		pages = redo.New()
	}

	var n uint64
	next := paths[1:]
	for {
		rec, err := r.Next(ctx)
		switch {
		case errors.Is(err, nil):
		case errors.Is(err, io.EOF):
			if len(next) > 0 {
				if err := r.Continue(next[0]); err != nil {
					return err
				}
				next = next[1:]
				continue
			}
			if pages != nil {
				fmt.Printf("page map: %d pages\n", pages.Len())
			}
			zlog.Info(ctx).Uint64("records", n).Msg("done")
			return nil
		default:
			return err
		}

		fmt.Print(rec)
		if pages != nil {
			if err := pages.Apply(ctx, rec); err != nil {
				return err
			}
		}
		n++
		if limit != 0 && n >= limit {
			zlog.Info(ctx).Uint64("records", n).Msg("record limit reached")
			return nil
		}
	}
}
