package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/tuiss/internal/protocol"
)

var speedCmd = &cobra.Command{
	Use:       "speed <" + strings.Join(protocol.Speeds, "|") + ">",
	Short:     "Change the motor speed",
	Long:      "Sends a speed setting. Only " + strings.Join(protocol.SpeedControlModels, ", ") + " motors are known to honour it.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: protocol.Speeds,
	RunE:      runSpeed,
}

func runSpeed(cmd *cobra.Command, args []string) error {
	if _, err := protocol.SpeedCommand(args[0]); err != nil {
		return err
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
	if err := b.SetSpeed(ctx, args[0]); err != nil {
		return err
	}

	if !b.SupportsSpeedControl() {
		fmt.Fprintf(cmd.ErrOrStderr(), "WARNING: model %s may not support speed control\n", orDash(b.State().Model))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s speed: %s\n", b.Name(), b.State().Speed)
	return nil
}
