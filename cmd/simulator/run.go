package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rfp-agent/backend/internal/mailbox"
	"github.com/rfp-agent/backend/internal/simulator"
	"github.com/rfp-agent/backend/pkg/config"
	"github.com/rfp-agent/backend/pkg/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Send one proposal per configured vendor that received the latest RFP",
	RunE:  run,
}

func init() {
	runCmd.Flags().String("mailpit", "", "Mailpit API URL, overrides mailbox.apiURL")
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if url, _ := cmd.Flags().GetString("mailpit"); url != "" {
		cfg.Mailbox.APIURL = url
	}

	level, format := cfg.Logging.Level, cfg.Logging.Format
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = "debug"
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		format = "json"
	} else if format == "json" {
		format = "console"
	}
	if err := logger.Init(level, format, "stdout"); err != nil {
		return fmt.Errorf("creating a logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting vendor simulator",
		zap.String("version", version),
		zap.String("mailpit", cfg.Mailbox.APIURL),
		zap.Int("vendors", len(cfg.Vendors)),
	)

	sim := simulator.New(
		mailbox.NewClient(cfg.Mailbox),
		mailbox.NewSMTPSender(cfg.Mailbox),
		cfg.Mailbox.ProcurementEmail,
		cfg.Vendors,
	)

	report, err := sim.Run(cmd.Context())
	if errors.Is(err, simulator.ErrNoRFPEmail) {
		logger.Info("No procurement RFP emails found")
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info("Vendor simulation complete",
		zap.Int64("rfp_id", report.Target.ID),
		zap.String("recipients", strings.Join(report.Recipients, ", ")),
		zap.Strings("sent", report.Sent),
		zap.Strings("skipped", report.Skipped),
		zap.Strings("failed", report.Failed),
	)

	if len(report.Failed) > 0 {
		return fmt.Errorf("%d vendor replies failed", len(report.Failed))
	}
	return nil
}
