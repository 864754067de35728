package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/tuiss/internal/protocol"
	"github.com/srg/tuiss/pkg/blind"
	"github.com/srg/tuiss/pkg/hub"
)

var positionCmd = &cobra.Command{
	Use:   "position",
	Short: "Read the blind position from the motor",
	Args:  cobra.NoArgs,
	RunE:  runPosition,
}

var batteryCmd = &cobra.Command{
	Use:   "battery",
	Short: "Read the battery state",
	Args:  cobra.NoArgs,
	RunE:  runBattery,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Read position and battery and print the blind state",
	Long: `Queries position and battery, then prints every tracked field.

Examples:
  # Human readable
  tuiss --blind Bedroom status

  # Machine readable
  tuiss --blind Bedroom status --format json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var statusFormat string

func init() {
	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", "text", "Output format (text, json)")
}

// statusReport is the JSON form of a blind state.
type statusReport struct {
	blind.State
	Cover        blind.CoverState `json:"state"`
	Closed       bool             `json:"closed"`
	Manufacturer string           `json:"manufacturer"`
	SpeedControl bool             `json:"speed_control"`
}

func runPosition(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := interruptContext(cmd)
	defer cancel()

	b, err := env.blind(ctx)
	if err != nil {
		return err
	}
	if err := b.GetPosition(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", b.Name(), describeState(b.State()))
	return nil
}

func runBattery(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := interruptContext(cmd)
	defer cancel()

	b, err := env.blind(ctx)
	if err != nil {
		return err
	}
	if err := b.GetBatteryStatus(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s battery: %s\n", b.Name(), batteryText(b.State().Battery))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusFormat != "text" && statusFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [text json]", statusFormat)
	}
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := interruptContext(cmd)
	defer cancel()

	b, err := env.blind(ctx)
	if err != nil {
		return err
	}
	if err := b.GetPosition(ctx); err != nil {
		return err
	}
	if err := b.GetBatteryStatus(ctx); err != nil {
		return err
	}

	st := b.State()
	report := statusReport{
		State:        st,
		Cover:        st.Cover(),
		Closed:       st.IsClosed(),
		Manufacturer: hub.Manufacturer,
		SpeedControl: b.SupportsSpeedControl(),
	}
	if statusFormat == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}
	return displayStatus(cmd.OutOrStdout(), report)
}

func displayStatus(out io.Writer, r statusReport) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Name:\t%s\n", r.Name)
	fmt.Fprintf(w, "Address:\t%s\n", r.Address)
	fmt.Fprintf(w, "Model:\t%s\n", orDash(r.Model))
	fmt.Fprintf(w, "Manufacturer:\t%s\n", r.Manufacturer)
	fmt.Fprintf(w, "State:\t%s\n", describeState(r.State))
	fmt.Fprintf(w, "Battery:\t%s\n", batteryText(r.Battery))
	fmt.Fprintf(w, "Speed:\t%s\n", r.Speed)
	fmt.Fprintf(w, "Speed control:\t%t\n", r.SpeedControl)
	if r.RSSI != nil {
		fmt.Fprintf(w, "RSSI:\t%d dBm\n", *r.RSSI)
	}
	return w.Flush()
}

// describeState renders the cover state with the position, e.g. "open (50%)".
func describeState(st blind.State) string {
	cover := string(st.Cover())
	switch st.Cover() {
	case blind.StateOpen:
		cover = color.GreenString(cover)
	case blind.StateClosed:
		cover = color.CyanString(cover)
	case blind.StateOpening, blind.StateClosing:
		cover = color.YellowString(cover)
	}
	if st.CurrentPosition == nil {
		return cover
	}
	return fmt.Sprintf("%s (%s)", cover, formatPercent(*st.CurrentPosition))
}

func batteryText(status protocol.BatteryStatus) string {
	switch status {
	case protocol.BatteryGood:
		return color.GreenString(status.String())
	case protocol.BatteryNeedsCharge:
		return color.RedString(status.String())
	default:
		return status.String()
	}
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64) + "%"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
