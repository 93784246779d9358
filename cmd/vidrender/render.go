package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"vidrender/internal/encoder"
	"vidrender/internal/pipeline"
	"vidrender/internal/pkg/shutdown"
	"vidrender/internal/worker/renderer"
)

func (c *cli) newRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <scene.json|scene.yaml>",
		Short: "Render a scene file to a video",
		Long: `Render parses the scene, provisions up to --parallel renderer instances and
writes the encoded video to --out. --parallel 0 sizes the pool from the CPUs and
free memory of this machine.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runRender(cmd, args[0])
		},
	}

	f := cmd.Flags()
	f.StringP("out", "o", "", "output video path (default: scene name with .mp4)")
	f.IntP("parallel", "p", 0, "renderer instances, 0 = auto")
	f.Float64("fps", 0, "override the scene frame rate")
	f.String("renderer-url", "http://localhost:8090", "render service base URL")
	f.String("api-key", "", "render service API key")
	f.Int("attempts", pipeline.DefaultRenderAttempts, "render attempts per frame")
	f.Int("instance-mem", 512, "memory per renderer instance in MB, used by --parallel 0")
	f.Duration("render-timeout", pipeline.DefaultRenderTimeout, "timeout of one frame render")
	f.String("ffmpeg", "ffmpeg", "ffmpeg executable")
	f.String("codec", "", "video codec (default: chosen from the output extension)")
	f.Int("crf", 0, "constant rate factor, 0 keeps the codec default")

	for _, name := range []string{"out", "parallel", "fps", "renderer-url", "api-key", "attempts",
		"instance-mem", "render-timeout", "ffmpeg", "codec", "crf"} {
		_ = c.v.BindPFlag(strings.ReplaceAll(name, "-", "_"), f.Lookup(name))
	}
	return cmd
}

func (c *cli) runRender(cmd *cobra.Command, path string) error {
	log := c.logger(cmd)

	sc, err := loadScene(path)
	if err != nil {
		return err
	}

	cfg := pipeline.Config{
		Out:            c.v.GetString("out"),
		Parallel:       c.v.GetInt("parallel"),
		FPS:            c.v.GetFloat64("fps"),
		RenderAttempts: c.v.GetInt("attempts"),
		RenderTimeout:  c.v.GetDuration("render_timeout"),
	}
	if cfg.Out == "" {
		cfg.Out = strings.TrimSuffix(path, filepath.Ext(path)) + ".mp4"
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = autoParallel(c.v.GetInt("instance_mem"))
		log.Info("parallelism chosen automatically", "parallel", cfg.Parallel)
	}

	client := renderer.NewHTTPClient(renderer.Options{
		BaseURL: c.v.GetString("renderer_url"),
		APIKey:  c.v.GetString("api_key"),
	}, log)
	sink := encoder.New(encoder.Config{
		BinPath: c.v.GetString("ffmpeg"),
		Codec:   c.v.GetString("codec"),
		CRF:     c.v.GetInt("crf"),
	}, log)

	ctx, stop := shutdown.NotifyContext(cmd.Context())
	defer stop()

	p := pipeline.New(pipeline.Deps{Factory: client.Factory(), Sink: sink, Log: log})
	res, err := p.RunScene(ctx, sc, cfg)
	if err != nil {
		if ctx.Err() != nil && cmd.Context().Err() == nil {
			return fmt.Errorf("interrupted: %w", err)
		}
		return err
	}
	return printSummary(cmd.OutOrStdout(), res, cfg.Parallel)
}

func printSummary(w io.Writer, res *pipeline.Result, parallel int) error {
	fps := 0.0
	if secs := res.Elapsed.Seconds(); secs > 0 {
		fps = float64(res.Frames) / secs
	}

	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")
	rows := [][]string{
		{"Job ID", res.JobID},
		{"Output", res.Out},
		{"Frames", strconv.Itoa(res.Frames)},
		{"Scene FPS", strconv.FormatFloat(res.FPS, 'f', -1, 64)},
		{"Elapsed", res.Elapsed.Round(time.Millisecond).String()},
		{"Render rate", fmt.Sprintf("%.1f frames/s", fps)},
		{"Parallel", strconv.Itoa(parallel)},
		{"Instances created", strconv.Itoa(res.Instances.Created)},
		{"Peak instances", strconv.Itoa(res.Instances.PeakLeased)},
		{"Retries", strconv.Itoa(res.Retries)},
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
