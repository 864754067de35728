package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	goble "github.com/srg/tuiss/internal/device/go-ble"
	"github.com/srg/tuiss/pkg/blind"
	"github.com/srg/tuiss/pkg/config"
	"github.com/srg/tuiss/pkg/hub"
)

var (
	configPath    string
	blindAddress  string
	blindName     string
	blindSelector string
)

// newTransport creates the BLE transport (can be overridden in tests)
var newTransport = func(cfg *config.Config, logger *logrus.Logger) blind.Transport {
	return goble.NewTransport(goble.TransportOptions{
		ScanTimeout:    cfg.ScanTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
	}, logger)
}

// loadConfig reads --config, or returns the defaults when it is not given.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(configPath)
}

// environment is what every blind command needs: logger, config and transport.
type environment struct {
	logger    *logrus.Logger
	cfg       *config.Config
	transport blind.Transport
}

func loadEnvironment(cmd *cobra.Command) (*environment, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	return &environment{
		logger:    logger,
		cfg:       cfg,
		transport: newTransport(cfg, logger),
	}, nil
}

// selected returns the blind configuration chosen by the global flags.
func (e *environment) selected() (config.BlindConfig, error) {
	switch {
	case blindSelector != "":
		return e.cfg.Blind(blindSelector)
	case blindAddress != "":
		if bc, err := e.cfg.Blind(blindAddress); err == nil {
			return bc, nil
		}
		name := blindName
		if name == "" {
			name = blindAddress
		}
		return config.BlindConfig{Address: blindAddress, Name: name, Options: blind.DefaultOptions()}, nil
	case len(e.cfg.Blinds) == 1:
		return e.cfg.Blinds[0], nil
	default:
		return config.BlindConfig{}, ErrNoBlindSelected
	}
}

// blind builds the selected blind and runs its start-up routine.
func (e *environment) blind(ctx context.Context) (*blind.Blind, error) {
	bc, err := e.selected()
	if err != nil {
		return nil, err
	}
	b, err := blind.New(bc.Address, bc.Name, e.transport, bc.Options, e.logger)
	if err != nil {
		return nil, err
	}
	b.Start(ctx).Wait()
	return b, nil
}

// hub registers every configured blind.
func (e *environment) hub() (*hub.Hub, error) {
	if len(e.cfg.Blinds) == 0 {
		return nil, ErrNoBlindsConfigured
	}
	h := hub.New(e.transport, e.logger)
	for _, bc := range e.cfg.Blinds {
		if _, err := h.Add(bc.Address, bc.Name, bc.Options); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// interruptContext is cancelled on Ctrl+C or SIGTERM.
func interruptContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(commandContext(cmd))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
