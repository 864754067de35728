package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/tuiss/internal/device"
	goble "github.com/srg/tuiss/internal/device/go-ble"
	"github.com/srg/tuiss/internal/protocol"
	"github.com/srg/tuiss/internal/testutils"
	"github.com/srg/tuiss/pkg/blind"
	"github.com/srg/tuiss/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const twoBlindConfig = `
blinds:
  - address: AA:BB:CC:DD:EE:01
    name: Bedroom
  - address: AA:BB:CC:DD:EE:02
    name: Kitchen
    options:
      blind_speed: Comfort
`

type CommandsTestSuite struct {
	CommandTestSuite
}

func TestCommandsTestSuite(t *testing.T) {
	suite.Run(t, new(CommandsTestSuite))
}

func (s *CommandsTestSuite) respond(frame []byte, notification []byte) {
	s.WithPeripheral().WithResponse(frame, 10*time.Millisecond, notification)
	s.BuildPeripheral()
}

func (s *CommandsTestSuite) framePercent(percent float64) []byte {
	frame, err := protocol.EncodePosition(percent)
	s.Require().NoError(err)
	return frame
}

func (s *CommandsTestSuite) TestOpenWithAddress() {
	// GOAL: Verify a tracked move selected by address reports the final state
	//
	// TEST SCENARIO: open with --address/--name, motor acks → stdout shows open at 100%
	s.respond(s.framePercent(0), testutils.AckFrame())

	out, _, err := s.ExecuteCommand("--address", "aa:bb:cc:dd:ee:01", "--name", "Bedroom", "open")

	s.Require().NoError(err, "open MUST succeed")
	s.Equal("Bedroom: open (100%)\n", out)
	s.Equal([]string{"ff78ea41bf03e803"}, s.Peripheral.CommandWrites())
}

func (s *CommandsTestSuite) TestCloseDefaultsNameToAddress() {
	s.respond(s.framePercent(100), testutils.AckFrame())

	out, _, err := s.ExecuteCommand("--address", "AA:BB:CC:DD:EE:01", "close")

	s.Require().NoError(err)
	s.Equal("AA:BB:CC:DD:EE:01: closed (0%)\n", out)
}

func (s *CommandsTestSuite) TestSetPosition() {
	s.respond(s.framePercent(50), testutils.AckFrame())

	out, _, err := s.ExecuteCommand("--address", "AA:BB:CC:DD:EE:01", "--name", "Bedroom", "set", "50")

	s.Require().NoError(err)
	s.Equal("Bedroom: open (50%)\n", out)
	s.Equal([]string{"ff78ea41bf03f401"}, s.Peripheral.CommandWrites())
}

func (s *CommandsTestSuite) TestSetRejectsOutOfRange() {
	_, _, err := s.ExecuteCommand("--address", "AA:BB:CC:DD:EE:01", "set", "150")

	s.Require().Error(err)
	s.Contains(err.Error(), "between 0 and 100")
	s.Empty(s.Peripheral.CommandWrites(), "invalid input MUST NOT reach the motor")
}

func (s *CommandsTestSuite) TestFavoriteFromConfig() {
	s.respond(s.framePercent(70), testutils.AckFrame())
	path := s.WriteConfig(`
blinds:
  - address: AA:BB:CC:DD:EE:01
    name: Bedroom
    options:
      favorite_position: 30
`)

	out, _, err := s.ExecuteCommand("--config", path, "favorite")

	s.Require().NoError(err, "a single configured blind MUST be selected implicitly")
	s.Equal("Bedroom: open (30%)\n", out)
}

func (s *CommandsTestSuite) TestExact() {
	out, _, err := s.ExecuteCommand("--address", "AA:BB:CC:DD:EE:01", "--name", "Bedroom", "exact", "25.5")

	s.Require().NoError(err)
	s.Equal("Bedroom: position set to 25.5%\n", out)
	s.Equal([]string{"ff78ea41bf03ff00"}, s.Peripheral.CommandWrites())
}

func (s *CommandsTestSuite) TestStop() {
	out, _, err := s.ExecuteCommand("--address", "AA:BB:CC:DD:EE:01", "--name", "Bedroom", "stop")

	s.Require().NoError(err)
	s.Equal("Bedroom: stopped\n", out)
	s.Equal([]string{"ff78ea415f0301"}, s.Peripheral.CommandWrites())
}

func (s *CommandsTestSuite) TestStopFailureIsAWarning() {
	s.WithPeripheral().WithWriteError(protocol.Stop.Bytes(), errors.New("gatt write rejected"))
	s.BuildPeripheral()

	out, errOut, err := s.ExecuteCommand("--address", "AA:BB:CC:DD:EE:01", "stop")

	s.Require().NoError(err, "a failed stop MUST NOT fail the command")
	s.Empty(out)
	s.Contains(errOut, "WARNING:")
	s.Contains(errOut, "gatt write rejected")
}

func (s *CommandsTestSuite) TestPosition() {
	s.respond(protocol.PositionQuery.Bytes(), testutils.PositionFrame(37.5))

	out, _, err := s.ExecuteCommand("--address", "AA:BB:CC:DD:EE:01", "--name", "Bedroom", "position")

	s.Require().NoError(err)
	s.Equal("Bedroom: open (37.5%)\n", out)
}

func (s *CommandsTestSuite) TestBattery() {
	s.respond(protocol.BatteryQuery.Bytes(), testutils.BatteryFrame(12))

	out, _, err := s.ExecuteCommand("--address", "AA:BB:CC:DD:EE:01", "--name", "Bedroom", "battery")

	s.Require().NoError(err)
	s.Equal("Bedroom battery: needs_charge\n", out)
}

func (s *CommandsTestSuite) statusPeripheral() {
	s.WithPeripheral().
		WithResponse(protocol.PositionQuery.Bytes(), 0, testutils.PositionFrame(37.5)).
		WithResponse(protocol.BatteryQuery.Bytes(), 0, testutils.BatteryFrame(5))
	s.BuildPeripheral()
}

func (s *CommandsTestSuite) TestStatusText() {
	s.statusPeripheral()

	out, _, err := s.ExecuteCommand("--address", "AA:BB:CC:DD:EE:01", "--name", "Bedroom", "status")

	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(out, `
Name:           Bedroom
Address:        AA:BB:CC:DD:EE:01
Model:          TS5200-0001
Manufacturer:   Tuiss and Blinds2go
State:          open (37.5%)
Battery:        good
Speed:          Standard
Speed control:  true
RSSI:           -60 dBm
`)
}

func (s *CommandsTestSuite) TestStatusJSON() {
	// GOAL: Verify status JSON carries the tracked fields plus the derived cover state
	//
	// TEST SCENARIO: status --format json after position/battery replies → JSON matches expected subset
	s.statusPeripheral()

	out, _, err := s.ExecuteCommand("--address", "AA:BB:CC:DD:EE:01", "--name", "Bedroom", "status", "--format", "json")

	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).Assert(out, `{
		"address": "AA:BB:CC:DD:EE:01",
		"name": "Bedroom",
		"model": "TS5200-0001",
		"moving": 0,
		"locked": false,
		"current_position": 37.5,
		"traversal_speed": null,
		"battery": "good",
		"rssi": -60,
		"speed": "Standard",
		"state": "open",
		"closed": false,
		"manufacturer": "Tuiss and Blinds2go",
		"speed_control": true
	}`)
}

func (s *CommandsTestSuite) TestStatusRejectsUnknownFormat() {
	_, _, err := s.ExecuteCommand("--address", "AA:BB:CC:DD:EE:01", "status", "--format", "xml")

	s.Require().Error(err)
	s.Contains(err.Error(), "invalid format")
}

func (s *CommandsTestSuite) TestSpeed() {
	out, errOut, err := s.ExecuteCommand("--address", "AA:BB:CC:DD:EE:01", "--name", "Bedroom", "speed", "slow")

	s.Require().NoError(err)
	s.Equal("Bedroom speed: Slow\n", out)
	s.NotContains(errOut, "WARNING", "TS5200 MUST NOT trigger the speed control warning")
	s.Equal([]string{"ff78ea41d10303"}, s.Peripheral.CommandWrites())
}

func (s *CommandsTestSuite) TestSpeedWarnsOnUnsupportedModel() {
	s.WithPeripheral().WithAdvertisedName("TS3000-0002")
	s.BuildPeripheral()

	_, errOut, err := s.ExecuteCommand("--address", "AA:BB:CC:DD:EE:01", "speed", "Comfort")

	s.Require().NoError(err, "the frame MUST still be sent")
	s.Contains(errOut, "WARNING: model TS3000-0002 may not support speed control")
}

func (s *CommandsTestSuite) TestSpeedRejectsUnknown() {
	_, _, err := s.ExecuteCommand("--address", "AA:BB:CC:DD:EE:01", "speed", "turbo")

	s.ErrorIs(err, protocol.ErrUnknownSpeed)
	s.Empty(s.Peripheral.CommandWrites())
}

func (s *CommandsTestSuite) TestBlindSelection() {
	path := s.WriteConfig(twoBlindConfig)

	_, _, err := s.ExecuteCommand("--config", path, "position")
	s.ErrorIs(err, ErrNoBlindSelected, "an ambiguous config MUST require a selection")

	_, _, err = s.ExecuteCommand("--config", path, "--blind", "Attic", "position")
	s.ErrorIs(err, config.ErrNoBlind)
}

func (s *CommandsTestSuite) TestSelectByConfiguredName() {
	s.respond(protocol.PositionQuery.Bytes(), testutils.PositionFrame(10))
	path := s.WriteConfig(twoBlindConfig)

	out, _, err := s.ExecuteCommand("--config", path, "--blind", "kitchen", "position")

	s.Require().NoError(err)
	s.Equal("Kitchen: closed (10%)\n", out)
}

func (s *CommandsTestSuite) TestInvalidAddress() {
	_, _, err := s.ExecuteCommand("--address", "not-a-mac", "position")

	s.ErrorIs(err, blind.ErrInvalidHost)
}

func (s *CommandsTestSuite) TestDeviceNotFound() {
	s.WithPeripheral().Unresolvable()
	s.BuildPeripheral()

	_, _, err := s.ExecuteCommand("--address", "AA:BB:CC:DD:EE:01", "battery")

	s.Require().ErrorIs(err, device.ErrDeviceNotFound)
	s.Contains(FormatUserError(err), "tuiss scan")
	s.Peripheral.Resolver.AssertNumberOfCalls(s.T(), "Resolve", 4)
}

func (s *CommandsTestSuite) TestMoveAll() {
	// GOAL: Verify move-all drives every configured blind
	//
	// TEST SCENARIO: Two configured blinds, motor acks 30% → one set-position frame each, both reported
	s.respond(s.framePercent(70), testutils.AckFrame())
	path := s.WriteConfig(twoBlindConfig)

	out, _, err := s.ExecuteCommand("--config", path, "move-all", "30")

	s.Require().NoError(err)
	s.Equal("Bedroom: open (30%)\nKitchen: open (30%)\n", out)
	s.Equal([]string{"ff78ea41bf032c01", "ff78ea41bf032c01"}, s.Peripheral.CommandWrites())
}

func (s *CommandsTestSuite) TestMoveAllWithoutConfig() {
	_, _, err := s.ExecuteCommand("move-all", "30")

	s.ErrorIs(err, ErrNoBlindsConfigured)
}

func (s *CommandsTestSuite) TestInvalidLogLevel() {
	_, _, err := s.ExecuteCommand("--log-level", "loud", "--address", "AA:BB:CC:DD:EE:01", "position")

	s.Require().Error(err)
	s.Contains(err.Error(), "invalid log level")
}

// fakeScanner returns a fixed set of advertisements and records the options it was given.
type fakeScanner struct {
	found map[string]goble.Advertisement
	opts  *goble.ScanOptions
}

func (f *fakeScanner) Scan(_ context.Context, opts *goble.ScanOptions, _ func(goble.Advertisement)) (map[string]goble.Advertisement, error) {
	f.opts = opts
	return f.found, nil
}

type ScanTestSuite struct {
	CommandTestSuite
	scanner *fakeScanner
}

func TestScanTestSuite(t *testing.T) {
	suite.Run(t, new(ScanTestSuite))
}

func (s *ScanTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()
	s.scanner = &fakeScanner{found: map[string]goble.Advertisement{
		"AA:BB:CC:DD:EE:01": {Handle: device.Handle{Address: "AA:BB:CC:DD:EE:01", Name: "TS5200-0001", RSSI: -70}, Connectable: true},
		"AA:BB:CC:DD:EE:02": {Handle: device.Handle{Address: "AA:BB:CC:DD:EE:02", Name: "TS5101-0002", RSSI: -50}, Connectable: true},
	}}
	newScanner = func(*config.Config, *logrus.Logger) advertisementScanner { return s.scanner }
}

func (s *ScanTestSuite) TestScanTable() {
	path := s.WriteConfig(twoBlindConfig)

	out, _, err := s.ExecuteCommand("--config", path, "scan", "--duration", "2s")

	s.Require().NoError(err)
	s.Equal(2*time.Second, s.scanner.opts.Duration)
	s.Equal([]string{"TS"}, s.scanner.opts.NamePrefixes, "scan MUST filter to blinds by default")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	s.Require().Len(lines, 4)
	s.Equal([]string{"ADDRESS", "NAME", "RSSI", "CONFIGURED"}, strings.Fields(lines[0]))
	s.Equal([]string{"AA:BB:CC:DD:EE:02", "TS5101-0002", "-50", "dBm", "Kitchen"}, strings.Fields(lines[2]),
		"the strongest signal MUST be listed first")
	s.Equal([]string{"AA:BB:CC:DD:EE:01", "TS5200-0001", "-70", "dBm", "Bedroom"}, strings.Fields(lines[3]))
}

func (s *ScanTestSuite) TestScanAllJSON() {
	out, _, err := s.ExecuteCommand("scan", "--all", "--format", "json")

	s.Require().NoError(err)
	s.Empty(s.scanner.opts.NamePrefixes, "--all MUST disable the name filter")

	var entries []scanEntry
	s.Require().NoError(json.Unmarshal([]byte(out), &entries))
	s.Equal([]scanEntry{
		{Address: "AA:BB:CC:DD:EE:02", Name: "TS5101-0002", RSSI: -50, Connectable: true},
		{Address: "AA:BB:CC:DD:EE:01", Name: "TS5200-0001", RSSI: -70, Connectable: true},
	}, entries)
}

func (s *ScanTestSuite) TestScanNothingFound() {
	s.scanner.found = nil

	out, _, err := s.ExecuteCommand("scan")

	s.Require().NoError(err)
	s.Equal("No blinds discovered\n", out)
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		err      error
		contains string
	}{
		{fmt.Errorf("x: %w", device.ErrBluetoothOff), "Bluetooth appears to be off"},
		{device.ErrConnectionTimeout, "did not respond"},
		{blind.ErrBusy, "tuiss stop"},
		{ErrNoBlindSelected, "--address"},
		{errors.New("plain failure"), "plain failure"},
	}
	for _, tt := range tests {
		t.Run(tt.contains, func(t *testing.T) {
			msg := FormatUserError(tt.err)
			assert.Contains(t, msg, tt.contains)
			assert.Contains(t, msg, tt.err.Error(), "the original error MUST be kept")
		})
	}
}

func TestParsePercent(t *testing.T) {
	p, err := parsePercent("42.5")
	assert.NoError(t, err)
	assert.Equal(t, 42.5, p)

	for _, bad := range []string{"-1", "101", "half"} {
		_, err := parsePercent(bad)
		assert.Error(t, err, "%q MUST be rejected", bad)
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
}

func TestConfigureLoggerPrecedence(t *testing.T) {
	newCmd := func(args ...string) *cobra.Command {
		cmd := &cobra.Command{Use: "test"}
		cmd.Flags().String("log-level", "", "")
		cmd.Flags().Bool("verbose", false, "")
		require.NoError(t, cmd.Flags().Parse(args))
		return cmd
	}
	cfg := config.DefaultConfig()
	cfg.LogLevel = "warn"

	tests := []struct {
		name       string
		configPath string
		args       []string
		want       logrus.Level
	}{
		{"silent by default", "", nil, logrus.PanicLevel},
		{"verbose", "", []string{"--verbose"}, logrus.DebugLevel},
		{"config file level", "tuiss.yaml", nil, logrus.WarnLevel},
		{"flag beats config", "tuiss.yaml", []string{"--log-level", "error"}, logrus.ErrorLevel},
		{"flag beats verbose", "", []string{"--verbose", "--log-level", "info"}, logrus.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saved := configPath
			configPath = tt.configPath
			defer func() { configPath = saved }()

			logger, err := configureLogger(newCmd(tt.args...), cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}
