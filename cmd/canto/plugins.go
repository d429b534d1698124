package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/canto-player/canto/internal/input"
	"github.com/canto-player/canto/internal/output"
)

func pluginsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List the compiled-in decoder and sink plugins",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("decoders:")
			for _, p := range input.Plugins() {
				fmt.Printf("  %-8s priority=%-3d ext=%s\n",
					p.Name, p.Priority, strings.Join(p.Extensions, ","))
			}
			fmt.Println("sinks:")
			for _, p := range output.Plugins() {
				mixer := ""
				if p.Mixer != nil {
					mixer = " (mixer)"
				}
				fmt.Printf("  %-8s priority=%-3d%s\n", p.Name, p.Priority, mixer)
			}
		},
	}
}
