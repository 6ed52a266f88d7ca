package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Chichichkin/ddshipper/internal/config"
	"github.com/Chichichkin/ddshipper/internal/daemon"
	"github.com/Chichichkin/ddshipper/internal/logging"
	"github.com/Chichichkin/ddshipper/internal/shipper"
)

// Set with -ldflags "-X main.version=..."
var (
	version = "dev"
	commit  = "none"
)

var (
	configPath string
	fromStart  bool
	sendLevel  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "ddshipper",
	Short:         "Ship log records to the DataDog HTTP intake",
	Long:          "ddshipper batches log records and delivers them to the DataDog logs intake with retries and a bounded graceful shutdown.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	tailCmd.Flags().BoolVar(&fromStart, "from-start", false, "read files discovered at startup from the beginning")
	sendCmd.Flags().StringVarP(&sendLevel, "level", "l", "info", "level of the shipped lines")

	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(versionCmd)
}

// --- Tail ---

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Tail log files and ship every line",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		if cmd.Flags().Changed("from-start") {
			cfg.Tail.FromStart = fromStart
		}
		daemonConfig, err := cfg.ToDaemonConfig()
		if err != nil {
			return err
		}

		s, err := startShipper(cfg, log)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		logDaemonService := daemon.NewLogDaemonService(ctx, daemonConfig, s.Logger(), log.Named("daemon"))
		logDaemonService.Start()

		signalChan := make(chan os.Signal, 1)
		signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			sig := <-signalChan
			log.Info("received shutdown signal", zap.Stringer("signal", sig))
			cancel()
		}()

		<-ctx.Done()
		log.Info("shutting down")

		logDaemonService.Stop()
		return shutdown(s)
	},
}

// --- Send ---

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Ship lines read from stdin",
	RunE: func(cmd *cobra.Command, _ []string) error {
		level, err := logging.ParseLevel(sendLevel)
		if err != nil {
			return err
		}

		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		s, err := startShipper(cfg, log)
		if err != nil {
			return err
		}

		n, readErr := sendLines(cmd.InOrStdin(), s.Logger(), level)
		log.Debug("stdin consumed", zap.Int("lines", n), zap.Error(readErr))

		if err := shutdown(s); err != nil {
			return err
		}
		if readErr != nil {
			return fmt.Errorf("read stdin: %w", readErr)
		}
		if failed := s.Stats().FailedRecords; failed > 0 {
			return fmt.Errorf("%d of %d records were not delivered", failed, n)
		}
		return nil
	},
}

func sendLines(r io.Reader, logger logging.Logger, level logging.Level) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), logging.DefaultMaxRecordBytes)

	n := 0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		logger.Log(level, line, nil)
		n++
	}
	return n, scanner.Err()
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ddshipper %s (%s)\n", version, commit)
	},
}

func loadConfig() (config.AppConfig, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	log, err := cfg.ZapLogger()
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return cfg, log, nil
}

func startShipper(cfg config.AppConfig, log *zap.Logger) (*shipper.Shipper, error) {
	pipelineConfig, err := cfg.ToPipelineConfig()
	if err != nil {
		return nil, err
	}
	pipelineConfig.OnError = func(err error) {
		log.Warn("log delivery failed", zap.Error(err))
	}
	return shipper.New(context.Background(), pipelineConfig, shipper.WithLogger(log))
}

func shutdown(s *shipper.Shipper) error {
	// one second on top of the flush budget for the scheduler to wind down
	ctx, cancel := context.WithTimeout(context.Background(), s.Config().ShutdownTimeout+time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}
