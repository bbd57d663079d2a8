package main

import (
	"fmt"
	"io"
	"os"

	"github.com/k0kubun/pp"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lherman-cs/bagextract/internal/config"
	"github.com/lherman-cs/bagextract/internal/logging"
	"github.com/lherman-cs/bagextract/rosbag"
)

var (
	topics   []string
	records  bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "bagdump <bag_file>",
	Short: "Print the messages of a bag",
	Long: `Decodes every message of the bag with the definition stored in its connection
and prints it. Use --records to print the raw records instead.

Examples:
  bagdump run.bag
  bagdump run.bag --topic /tf --topic /odom
  bagdump run.bag --records`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := logging.New(config.LoggingConfig{Level: logLevel, Format: "console"})
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		pp.ColoringEnabled = isatty.IsTerminal(os.Stdout.Fd())
		if records {
			return dumpRecords(cmd.OutOrStdout(), args[0])
		}
		return dumpMessages(logger, cmd.OutOrStdout(), args[0], topics)
	},
}

func init() {
	rootCmd.Flags().StringSliceVarP(&topics, "topic", "t", nil, "only print messages of these topics (default: all)")
	rootCmd.Flags().BoolVar(&records, "records", false, "print raw records instead of decoded messages")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
}

func dumpMessages(logger *zap.Logger, w io.Writer, path string, topics []string) error {
	bag, err := rosbag.Open(path)
	if err != nil {
		return err
	}
	defer bag.Close()

	cursor := bag.Messages(topics...)
	for {
		msg, err := cursor.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		data := make(map[string]interface{})
		if err := msg.UnmarshallTo(data); err != nil {
			logger.Warn("can't decode message", zap.String("topic", msg.Topic()), zap.Error(err))
			msg.Close()
			continue
		}

		fmt.Fprint(w, msg)
		_, err = pp.Fprintln(w, data)
		msg.Close()
		if err != nil {
			return errors.WithStack(err)
		}
	}
}

func dumpRecords(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := rosbag.NewDecoder(f)
	for {
		record, err := decoder.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		op, _ := record.Op()
		fmt.Fprintf(w, "%s%s\n", op, record)
		record.Close()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
