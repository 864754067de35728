package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// MockPeripheralSuite provides a testify suite with a simulated blind motor.
//
// Basic usage (default peripheral that resolves, connects and answers nothing):
//
//	type MotionSuite struct {
//	    testutils.MockPeripheralSuite
//	}
//
//	func TestMotionSuite(t *testing.T) {
//	    suite.Run(t, new(MotionSuite))
//	}
//
// Custom peripheral usage, configured before the parent SetupTest:
//
//	func (s *BatterySuite) SetupTest() {
//	    s.WithPeripheral().
//	        WithResponse(protocol.BatteryQuery.Bytes(), 0, testutils.BatteryFrame(5))
//	    s.MockPeripheralSuite.SetupTest()
//	}
//
// Tests may also call s.WithPeripheral()...; s.BuildPeripheral() to replace it.
type MockPeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	TestTimeout time.Duration

	PeripheralBuilder *PeripheralBuilder
	Peripheral        *Peripheral
}

// SetupSuite initializes the helper and logger once.
func (s *MockPeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second
}

// SetupTest builds the configured (or default) peripheral.
func (s *MockPeripheralSuite) SetupTest() {
	s.BuildPeripheral()
}

// TearDownTest resets the builder so the next test starts from defaults.
func (s *MockPeripheralSuite) TearDownTest() {
	s.PeripheralBuilder = nil
	s.Peripheral = nil
}

// WithPeripheral returns the builder for fluent configuration.
func (s *MockPeripheralSuite) WithPeripheral() *PeripheralBuilder {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralBuilder()
	}
	return s.PeripheralBuilder
}

// BuildPeripheral (re)creates Peripheral from the current builder.
func (s *MockPeripheralSuite) BuildPeripheral() *Peripheral {
	s.Peripheral = s.WithPeripheral().Build()
	return s.Peripheral
}
