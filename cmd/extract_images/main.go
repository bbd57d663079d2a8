package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/k0kubun/pp"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lherman-cs/bagextract/imgmsg"
	"github.com/lherman-cs/bagextract/internal/config"
	"github.com/lherman-cs/bagextract/internal/extractor"
	"github.com/lherman-cs/bagextract/internal/logging"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	summary    bool
)

var rootCmd = &cobra.Command{
	Use:   "extract_images <bag_file> <output_dir> <image_topic> <encoding>",
	Short: "Extract the images of a bag topic into numbered PNG files",
	Long: `Reads every sensor_msgs/Image message published on image_topic, converts it
to encoding and writes it to output_dir as NNNNNN_rgb.png or NNNNNN_depth.png,
depending on whether the topic name contains "rgb" or "depth".

output_dir must already exist. Existing files are overwritten.

encoding is one of ` + strings.Join(imgmsg.Encodings(), ", ") + `.
passthrough (the default) keeps the encoding of the message.
32FC1 images have no PNG representation and are rejected.

Examples:
  # Color frames
  extract_images run.bag frames /camera/rgb/image_raw bgr8

  # Depth frames, keeping the 16 bit values
  extract_images run.bag frames /camera/depth/image_raw passthrough

  # Print what the bag contains first
  extract_images --summary run.bag frames /camera/rgb/image_raw rgb8`,
	Args:          cobra.ExactArgs(4),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtract(cmd, args)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "", "log format: console, json (overrides config)")
	rootCmd.Flags().BoolVar(&summary, "summary", false, "print a summary of the bag before extracting")
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "loading config")
	}
	if err := cfg.SetArgs(args); err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if summary {
		cfg.Summary = true
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	var opts []extractor.Option
	if cfg.Summary {
		pp.ColoringEnabled = isatty.IsTerminal(os.Stdout.Fd())
		opts = append(opts, extractor.WithSummary(cmd.OutOrStdout()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	written, err := extractor.New(logger, opts...).Run(ctx, extractor.Options{
		BagFile:   cfg.BagFile,
		OutputDir: cfg.OutputDir,
		Topic:     cfg.Topic,
		Encoding:  cfg.Encoding,
	})
	if err != nil {
		logger.Error("extraction failed", zap.Int("images", written), zap.Error(err))
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
