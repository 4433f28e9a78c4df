package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"lynchvision/internal/config"
	"lynchvision/internal/httpclient"
	"lynchvision/internal/logging"
	"lynchvision/internal/studio"
)

// builder turns the loaded configuration into a studio; tests swap it out.
type builder func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*studio.Studio, error)

func defaultBuilder(ctx context.Context, cfg config.Config, logger *slog.Logger) (*studio.Studio, error) {
	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})
	return studio.FromConfig(ctx, cfg, httpClient, nil, logger)
}

type flags struct {
	image     string
	scene     string
	aspect    string
	outDir    string
	geminiKey string
	proxyKey  string
	renderer  string
	logLevel  string
	dryRun    bool
}

func newRootCmd(build builder) *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:          "lynchvision",
		Short:        "Turn a reference photo into cinematic shots",
		Long:         "lynchvision asks Gemini to direct a cinematic shot of a reference photo, then renders it. The grid command produces a 3x3 storyboard of distinct camera angles.",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.image, "image", "i", "", "reference image (PNG or JPEG)")
	pf.StringVarP(&f.scene, "scene", "s", "", "scene or context to direct; empty uses a dynamic cinematic moment")
	pf.StringVarP(&f.aspect, "aspect", "a", "1:1", "output aspect ratio: 1:1, 16:9, 9:16, 4:3 or 3:4")
	pf.StringVarP(&f.outDir, "out", "o", ".", "directory to write images into")
	pf.StringVar(&f.geminiKey, "gemini-key", "", "Google API key; defaults to GEMINI_API_KEY")
	pf.StringVar(&f.proxyKey, "proxy-key", "", "image proxy API key; defaults to PROXY_API_KEY")
	pf.StringVar(&f.logLevel, "log-level", "", "log level; defaults to LOG_LEVEL")
	pf.BoolVar(&f.dryRun, "dry-run", false, "print the director instruction and exit")

	shot := &cobra.Command{
		Use:   "shot",
		Short: "Direct and render one cinematic shot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runShot(cmd, f, build)
		},
	}

	grid := &cobra.Command{
		Use:   "grid",
		Short: "Direct and render a 3x3 storyboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGrid(cmd, f, build)
		},
	}
	grid.Flags().StringVar(&f.renderer, "renderer", studio.RendererAuto, "force a renderer: direct or proxy; empty picks the proxy when configured")

	root.AddCommand(shot, grid)
	return root
}

// setup loads configuration and builds the studio for a production command.
func setup(cmd *cobra.Command, f *flags, build builder) (*studio.Studio, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if f.logLevel != "" {
		level = f.logLevel
	}
	logger := logging.New(level, cmd.ErrOrStderr())

	if err := os.MkdirAll(f.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return build(cmd.Context(), cfg, logger)
}
