package main

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/srg/tuiss/internal/testutils"
	"github.com/srg/tuiss/pkg/blind"
	"github.com/srg/tuiss/pkg/config"
)

// CommandTestSuite extends MockPeripheralSuite with command testing utilities.
// All cmd/tuiss test suites should embed this instead of MockPeripheralSuite.
type CommandTestSuite struct {
	testutils.MockPeripheralSuite

	originalTransport func(*config.Config, *logrus.Logger) blind.Transport
	originalScanner   func(*config.Config, *logrus.Logger) advertisementScanner
}

func (s *CommandTestSuite) SetupSuite() {
	s.MockPeripheralSuite.SetupSuite()
	s.originalTransport = newTransport
	s.originalScanner = newScanner
	color.NoColor = true
}

func (s *CommandTestSuite) TearDownSuite() {
	newTransport = s.originalTransport
	newScanner = s.originalScanner
}

// SetupTest resets global flags and routes the transport to the current peripheral.
func (s *CommandTestSuite) SetupTest() {
	s.MockPeripheralSuite.SetupTest()

	configPath = ""
	blindAddress = ""
	blindName = ""
	blindSelector = ""
	statusFormat = "text"
	scanDuration = 10 * time.Second
	scanAll = false
	scanFormat = "table"
	s.Require().NoError(rootCmd.PersistentFlags().Set("log-level", ""))
	s.Require().NoError(rootCmd.PersistentFlags().Set("verbose", "false"))

	newTransport = func(*config.Config, *logrus.Logger) blind.Transport {
		return s.Peripheral
	}
}

// ExecuteCommand runs the root command with args and returns stdout, stderr and the error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

// WriteConfig stores a YAML config in a temp dir and returns its path.
func (s *CommandTestSuite) WriteConfig(yaml string) string {
	path := filepath.Join(s.T().TempDir(), "tuiss.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(yaml), 0o600), "config write MUST succeed")
	return path
}
