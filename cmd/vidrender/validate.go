package main

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"vidrender/internal/scene"
)

func (c *cli) newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scene.json|scene.yaml>",
		Short: "Check a scene file and print its timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fps, _ := cmd.Flags().GetFloat64("fps")

			sc, err := loadScene(args[0])
			if err != nil {
				return err
			}
			sc = sc.WithFPS(fps)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "scene ok: %dx%d, %d frames at %g fps (%.3fs)\n",
				sc.Width, sc.Height, sc.FrameCount(), sc.EffectiveFPS(), sc.Duration)

			table := tablewriter.NewWriter(out)
			table.Header("ID", "Type", "Start", "End", "Source")
			for _, el := range sc.Elements {
				if err := table.Append([]string{
					el.ID,
					string(el.Kind),
					strconv.FormatFloat(el.Start, 'f', 3, 64),
					strconv.FormatFloat(el.End, 'f', 3, 64),
					sourceOf(el.Payload),
				}); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}
	cmd.Flags().Float64("fps", 0, "override the scene frame rate")
	return cmd
}

func sourceOf(p scene.Payload) string {
	switch p := p.(type) {
	case scene.ImagePayload:
		return p.Src
	case scene.VideoPayload:
		return p.Src
	case scene.TextPayload:
		return p.Text
	case scene.ShapePayload:
		return p.Shape
	}
	return ""
}
