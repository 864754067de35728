package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	goble "github.com/srg/tuiss/internal/device/go-ble"
	"github.com/srg/tuiss/internal/protocol"
	"github.com/srg/tuiss/pkg/config"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby blinds",
	Long: `Listens for advertisements and lists nearby Smartview motors with their
address, model and signal strength. Use --all to list every BLE peripheral.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanAll      bool
	scanFormat   string
)

// advertisementScanner is the part of the go-ble scanner the command uses.
type advertisementScanner interface {
	Scan(ctx context.Context, opts *goble.ScanOptions, onAdv func(goble.Advertisement)) (map[string]goble.Advertisement, error)
}

// newScanner creates the BLE scanner (can be overridden in tests)
var newScanner = func(cfg *config.Config, logger *logrus.Logger) advertisementScanner {
	return goble.NewTransport(goble.TransportOptions{
		ScanTimeout:    cfg.ScanTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
	}, logger).Scanner()
}

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every peripheral, not only blinds")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
}

// scanEntry is one line of scan output.
type scanEntry struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	RSSI        int    `json:"rssi"`
	Connectable bool   `json:"connectable"`
	Configured  string `json:"configured,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := &goble.ScanOptions{Duration: scanDuration}
	if !scanAll {
		opts.NamePrefixes = []string{protocol.ModelNamePrefix}
	}

	ctx, cancel := interruptContext(cmd)
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for blinds", "Scanning")
	progress.Start()
	found, err := newScanner(cfg, logger).Scan(ctx, opts, nil)
	progress.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	entries := make([]scanEntry, 0, len(found))
	for _, adv := range found {
		e := scanEntry{
			Address:     adv.Handle.Address,
			Name:        adv.Handle.Name,
			RSSI:        adv.Handle.RSSI,
			Connectable: adv.Connectable,
		}
		if bc, err := cfg.Blind(adv.Handle.Address); err == nil {
			e.Configured = bc.Name
		}
		entries = append(entries, e)
	}
	// Strongest signal first
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].RSSI != entries[j].RSSI {
			return entries[i].RSSI > entries[j].RSSI
		}
		return entries[i].Address < entries[j].Address
	})

	if scanFormat == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	}
	return displayScanTable(cmd.OutOrStdout(), entries)
}

func displayScanTable(out io.Writer, entries []scanEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No blinds discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tRSSI\tCONFIGURED")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\n", e.Address, orDash(e.Name), e.RSSI, orDash(e.Configured))
	}
	return w.Flush()
}
