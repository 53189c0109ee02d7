package main

import (
	"fmt"
	"log"
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v2"
	"github.com/vkngwrapper/stackgc/gc"
	"github.com/vkngwrapper/stackgc/memutils"
	"golang.org/x/exp/slog"
)

const greeting = "Hello, World!\x00"

func main() {
	app := cli.App{
		Name:        "stackgc-demo",
		Description: "exercise a stack-rooted collector from the command line",
		Commands: []*cli.Command{{
			Name: "run",
			Description: "allocate a batch of greeting buffers, keep a few of them on the " +
				"root stack, collect, and print the collector's statistics",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "allocs",
					Usage: "the number of buffers to allocate",
					Value: 100,
				},
				&cli.IntFlag{
					Name:  "size",
					Usage: "the size in bytes of each buffer",
					Value: len(greeting),
				},
				&cli.IntFlag{
					Name:  "keep",
					Usage: "the number of buffers to push onto the root stack, spread evenly across the batch",
					Value: 2,
				},
				&cli.IntFlag{
					Name:  "rounds",
					Usage: "the number of allocate-and-collect rounds",
					Value: 1,
				},
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "log every root slot and block",
				},
				&cli.BoolFlag{
					Name:  "detailed",
					Usage: "include every chunk's block list in the statistics",
				},
			},
			Action: withCollector(run),
		}},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func withCollector(f func(*gc.Collector, *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		config, err := LoadConfig()
		if err != nil {
			return err
		}

		level, err := config.Level()
		if err != nil {
			return err
		}
		if ctx.Bool("verbose") {
			level = slog.LevelDebug
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		collector, err := gc.New(logger, config.CreateOptions())
		if err != nil {
			return errors.Wrap(err, "creating collector")
		}

		err = f(collector, ctx)
		stack := collector.RootStack()
		if unwindErr := stack.Unwind(0); unwindErr != nil {
			err = errors.CombineErrors(err, unwindErr)
		}
		collector.Collect()
		return errors.CombineErrors(err, collector.Destroy())
	}
}

func run(collector *gc.Collector, ctx *cli.Context) error {
	allocs := ctx.Int("allocs")
	size := ctx.Int("size")
	keep := ctx.Int("keep")
	if allocs <= 0 || size <= 0 {
		return errors.Newf("allocs (%d) and size (%d) must be positive", allocs, size)
	}
	if keep < 0 || keep > allocs {
		return errors.Newf("keep (%d) must be between 0 and allocs (%d)", keep, allocs)
	}

	stack := collector.RootStack()
	for round := 0; round < ctx.Int("rounds"); round++ {
		depth := stack.Len()

		for i := 0; i < allocs; i++ {
			buffer, err := collector.Allocate(size)
			if err != nil {
				return errors.Wrapf(err, "allocating buffer %d of round %d", i, round)
			}
			copy(unsafe.Slice((*byte)(buffer), size), greeting)

			if keep > 0 && i%max(allocs/keep, 1) == 0 && stack.Len()-depth < keep {
				if _, err := stack.Push(buffer); err != nil {
					return err
				}
			}
		}

		stats := collector.Collect()
		fmt.Printf("round %d: scanned %d slots, %d survived, %d freed (%d bytes), %d chunks released, %d coalesced\n",
			round, stats.SlotsScanned, stats.Survived, stats.Freed, stats.FreedBytes, stats.ChunksReleased, stats.Coalesced)

		var usage memutils.Statistics
		collector.Statistics(&usage)
		fmt.Printf("  in use: %d blocks, %d of %d bytes across %d chunks\n",
			usage.AllocationCount, usage.AllocationBytes, usage.ChunkBytes, usage.ChunkCount)

		for index := depth; index < stack.Len(); index++ {
			buffer, err := stack.Get(index)
			if err != nil {
				return err
			}
			fmt.Printf("  root %d: %q\n", index, unsafe.String((*byte)(buffer), min(size, len(greeting)-1)))
		}

		if err := collector.Validate(); err != nil {
			return errors.Wrapf(err, "validating after round %d", round)
		}
		if err := stack.Unwind(depth); err != nil {
			return err
		}
	}

	fmt.Println(collector.BuildStatsString(ctx.Bool("detailed")))
	return nil
}
