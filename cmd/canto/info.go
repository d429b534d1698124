package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/canto-player/canto/internal/input"
)

func infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>",
		Short: "Show a file's duration and comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fi, err := input.GetFileInfo(args[0])
			if err != nil {
				return err
			}
			if fi.Duration >= 0 {
				fmt.Printf("duration: %d:%02d\n", fi.Duration/60, fi.Duration%60)
			} else {
				fmt.Println("duration: unknown")
			}
			for _, c := range fi.Comments {
				fmt.Printf("%s=%s\n", c.Key, c.Val)
			}
			return nil
		},
	}
}
