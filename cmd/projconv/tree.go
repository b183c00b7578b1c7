package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sly67/projconv/internal/selection"
	"github.com/sly67/projconv/internal/tree"
)

func newTreeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <path>",
		Short: "Show the files that convert would upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.ensureConfig(); err != nil {
				return err
			}
			raw, err := selection.FromPath(args[0])
			if err != nil {
				return err
			}
			sel, err := selection.Select(raw)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s upload: %d files, %s\n", sel.Kind.UploadType(), sel.Len(), humanize.IBytes(uint64(sel.TotalSize())))
			return tree.Render(out, tree.Build(sel))
		},
	}
}
