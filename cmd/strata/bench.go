package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/strata/internal/bench"
)

func benchCmd() *cli.Command {
	var (
		preset  string
		steps   int64
		layers  int64
		qHeads  int64
		kvHeads int64
		headDim int64
		seed    int64
	)

	flags := append([]cli.Flag{}, commonFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "preset",
			Usage:       "cache preset to benchmark",
			Destination: &preset,
		},
		&cli.Int64Flag{
			Name:        "steps",
			Aliases:     []string{"n"},
			Usage:       "number of tokens to decode",
			Value:       128,
			Destination: &steps,
		},
		&cli.Int64Flag{
			Name:        "layers",
			Usage:       "number of attention layers",
			Value:       2,
			Destination: &layers,
		},
		&cli.Int64Flag{
			Name:        "q-heads",
			Usage:       "query heads",
			Value:       4,
			Destination: &qHeads,
		},
		&cli.Int64Flag{
			Name:        "kv-heads",
			Usage:       "key/value heads",
			Value:       2,
			Destination: &kvHeads,
		},
		&cli.Int64Flag{
			Name:        "head-dim",
			Usage:       "head dimension",
			Value:       64,
			Destination: &headDim,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "decoder weight seed",
			Value:       1,
			Destination: &seed,
		},
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Benchmark single-token decode latency for a cache preset",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyBenchConfig(cmd, cfg, &preset, &steps, &layers, &qHeads, &kvHeads, &headDim, &seed)
			log := buildLogger(cfg)

			reg, err := buildRegistry(cfg, cmd)
			if err != nil {
				return err
			}

			log.Info("benchmark starting", "preset", preset, "steps", steps, "layers", layers)
			res, err := bench.Run(ctx, reg, bench.Options{
				Preset:  preset,
				Steps:   int(steps),
				Layers:  int(layers),
				QHeads:  int(qHeads),
				KVHeads: int(kvHeads),
				HeadDim: int(headDim),
				Seed:    seed,
			})
			if err != nil {
				return err
			}

			fmt.Printf("preset:     %s\n", res.Preset)
			fmt.Printf("steps:      %d\n", res.Steps)
			fmt.Printf("layers:     %d\n", res.Layers)
			fmt.Printf("total:      %s\n", res.Total)
			fmt.Printf("mean:       %s\n", res.Mean)
			fmt.Printf("std dev:    %s\n", res.StdDev)
			fmt.Printf("p50:        %s\n", res.P50)
			fmt.Printf("p99:        %s\n", res.P99)
			fmt.Printf("tokens/sec: %.1f\n", res.TokensSec)
			if res.PeakRSSKB > 0 {
				fmt.Printf("peak rss:   %d KB\n", res.PeakRSSKB)
			}
			return nil
		},
	}
}
