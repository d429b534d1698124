// Canto is the playback engine of a terminal music player. This
// command is the minimal outer shell: it plays files from the command
// line, probes file info and lists the compiled-in plugins.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/canto-player/canto/internal/conf"
	"github.com/canto-player/canto/internal/logging"

	// Compiled-in plugins register themselves on import.
	_ "github.com/canto-player/canto/internal/input/flacdec"
	_ "github.com/canto-player/canto/internal/input/mp3"
	_ "github.com/canto-player/canto/internal/input/vorbis"
	_ "github.com/canto-player/canto/internal/input/wave"
	_ "github.com/canto-player/canto/internal/output/malgodev"
	_ "github.com/canto-player/canto/internal/output/nullout"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "canto",
		Short: "Canto audio engine CLI",
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logging.Init()
		if _, err := conf.Load(); err != nil {
			return fmt.Errorf("error loading configuration: %w", err)
		}
		return nil
	}

	rootCmd.AddCommand(
		playCommand(),
		infoCommand(),
		pluginsCommand(),
	)
	return rootCmd
}
