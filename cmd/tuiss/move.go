package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/srg/tuiss/pkg/blind"
)

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Fully open the blind",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMove(cmd, "Opening", func(ctx context.Context, b *blind.Blind) error {
			return b.Open(ctx)
		})
	},
}

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Fully close the blind",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMove(cmd, "Closing", func(ctx context.Context, b *blind.Blind) error {
			return b.Close(ctx)
		})
	},
}

var setCmd = &cobra.Command{
	Use:   "set <percent>",
	Short: "Move the blind to a position (0 closed, 100 open)",
	Long: `Moves the blind to a whole-blind position and tracks it until the motor reports back.

Examples:
  # Half open
  tuiss --blind Bedroom set 50`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		percent, err := parsePercent(args[0])
		if err != nil {
			return err
		}
		return runMove(cmd, "Moving", func(ctx context.Context, b *blind.Blind) error {
			return b.SetPosition(ctx, percent)
		})
	},
}

var favoriteCmd = &cobra.Command{
	Use:   "favorite",
	Short: "Move the blind to its favourite position",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMove(cmd, "Moving", func(ctx context.Context, b *blind.Blind) error {
			return b.GoToFavorite(ctx)
		})
	},
}

var exactCmd = &cobra.Command{
	Use:   "exact <percent>",
	Short: "Send a decimal position without tracking the move",
	Args:  cobra.ExactArgs(1),
	RunE:  runExact,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the blind",
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

var moveAllCmd = &cobra.Command{
	Use:   "move-all <percent>",
	Short: "Move every configured blind at the same time",
	Args:  cobra.ExactArgs(1),
	RunE:  runMoveAll,
}

func parsePercent(arg string) (float64, error) {
	p, err := strconv.ParseFloat(arg, 64)
	if err != nil || p < 0 || p > 100 {
		return 0, fmt.Errorf("invalid position %q: must be a number between 0 and 100", arg)
	}
	return p, nil
}

// runMove performs a tracked move with a progress line; Ctrl+C stops the motor.
func runMove(cmd *cobra.Command, verb string, move func(context.Context, *blind.Blind) error) error {
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

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("%s %s", verb, b.Name()), "Connecting")
	observer := blind.NewObserver(func() {
		progress.SetPhase(describeState(b.State()))
	})
	b.RegisterCallback(observer)
	defer b.RemoveCallback(observer)

	progress.Start()
	err = move(ctx, b)
	progress.Stop()

	if errors.Is(err, context.Canceled) {
		if stopErr := b.Stop(context.Background()); stopErr != nil {
			env.logger.WithError(stopErr).Warn("Stop after interrupt failed")
		}
		return err
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", b.Name(), describeState(b.State()))
	return nil
}

func runExact(cmd *cobra.Command, args []string) error {
	percent, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid position %q: %w", args[0], err)
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
	if err := b.SetExactPosition(ctx, percent); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: position set to %s\n", b.Name(), formatPercent(percent))
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
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

	err = b.Stop(ctx)
	if errors.Is(err, blind.ErrStopFailed) {
		fmt.Fprintf(cmd.ErrOrStderr(), "WARNING: %s\n", FormatUserError(err))
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: stopped\n", b.Name())
	return nil
}

func runMoveAll(cmd *cobra.Command, args []string) error {
	percent, err := parsePercent(args[0])
	if err != nil {
		return err
	}
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	h, err := env.hub()
	if err != nil {
		return err
	}

	ctx, cancel := interruptContext(cmd)
	defer cancel()

	for _, t := range h.Start(ctx) {
		t.Wait()
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Moving %d blinds", h.Len()), "Connecting")
	progress.Start()
	err = h.MoveAll(ctx, percent)
	progress.Stop()

	if errors.Is(err, context.Canceled) {
		_ = h.StopAll(context.Background())
		return err
	}

	out := cmd.OutOrStdout()
	for _, b := range h.Blinds() {
		fmt.Fprintf(out, "%s: %s\n", b.Name(), describeState(b.State()))
	}
	return err
}
