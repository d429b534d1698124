package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/canto-player/canto/internal/conf"
	"github.com/canto-player/canto/internal/input"
	"github.com/canto-player/canto/internal/observability"
	"github.com/canto-player/canto/internal/output"
	"github.com/canto-player/canto/internal/player"
	"github.com/canto-player/canto/internal/track"
)

// applyPluginOptions pushes the configured per-plugin option maps into
// the registries before the engine starts.
func applyPluginOptions(settings *conf.Settings) {
	for pluginName, opts := range settings.Input {
		for k, v := range opts {
			_ = input.SetOption(pluginName, k, v)
		}
	}
	for _, p := range output.Plugins() {
		opts, ok := settings.Output[p.Name]
		if !ok {
			continue
		}
		for i := range p.PCMOptions {
			if v, ok := opts[p.PCMOptions[i].Name]; ok {
				_ = p.PCMOptions[i].Set(v)
			}
		}
	}
}

// argvPlaylist feeds the engine's get-next callback from the command
// line.
type argvPlaylist struct {
	mu    sync.Mutex
	files []string
	next  int
}

func (pl *argvPlaylist) getNext() (*track.Info, bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.next >= len(pl.files) {
		return nil, false
	}
	ti := track.NewInfo(pl.files[pl.next])
	pl.next++
	return ti, true
}

func playCommand() *cobra.Command {
	var outputName string

	cmd := &cobra.Command{
		Use:   "play <files...>",
		Short: "Play audio files in order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := conf.Setting()
			if outputName == "" {
				outputName = settings.Player.Output
			}

			applyPluginOptions(settings)
			playlist := &argvPlaylist{files: args}

			p := player.New(
				player.Callbacks{GetNext: playlist.getNext},
				player.Options{
					BufferChunks: settings.Player.BufferChunks,
					OutputName:   outputName,
					SoftVol:      settings.Player.SoftVol,
					SoftVolL:     settings.Player.SoftVolLeft,
					SoftVolR:     settings.Player.SoftVolRight,
					ReplayGain:   player.ParseReplayGainMode(settings.Player.ReplayGain),
					RGLimit:      settings.Player.ReplayGainLimit,
					RGPreamp:     settings.Player.ReplayGainPreamp,
					Metrics:      observability.NewMetrics(),
				})
			player.LoadPlugins()

			p.Start()
			defer p.Shutdown()
			p.Play()

			// Poll the published state the way a UI event loop would.
			var lastFile string
			for {
				info := p.ConsumeChanges()
				if info.FileChanged && info.Track != nil && info.Track.Filename != lastFile {
					lastFile = info.Track.Filename
					fmt.Printf("playing: %s\n", lastFile)
				}
				if info.MetadataChanged && info.Metadata != "" {
					fmt.Printf("metadata: %s\n", info.Metadata)
				}
				if info.StatusChanged && info.ErrorMsg != "" {
					fmt.Printf("error: %s\n", info.ErrorMsg)
				}
				if info.StatusChanged && info.Status == player.StatusStopped {
					return nil
				}
				time.Sleep(100 * time.Millisecond)
			}
		},
	}

	cmd.Flags().StringVarP(&outputName, "output", "o", "", "sink plugin to use")
	return cmd
}
