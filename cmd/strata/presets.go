package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func presetsCmd() *cli.Command {
	return &cli.Command{
		Name:  "presets",
		Usage: "List available cache presets",
		Flags: commonFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			reg, err := buildRegistry(cfg, cmd)
			if err != nil {
				return err
			}
			for _, name := range reg.Names() {
				p, err := reg.Get(name)
				if err != nil {
					continue
				}
				marker := " "
				if name == reg.DefaultName() {
					marker = "*"
				}
				switch p.Kind {
				case "quantized":
					fmt.Printf("%s %-10s %s (group %d, %d bits)\n", marker, name, p.Kind, p.GroupSize, p.Bits)
				default:
					fmt.Printf("%s %-10s %s\n", marker, name, p.Kind)
				}
			}
			return nil
		},
	}
}
