package shm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func (s *ConfigTestSuite) TestVerifyConfig() {
	s.Require().ErrorIs(VerifyConfig(nil), ErrInvalidConfig)

	config := DefaultConfig()
	s.Require().NoError(VerifyConfig(config))

	config.NamespaceDir = "relative/dir"
	s.Require().ErrorIs(VerifyConfig(config), ErrInvalidConfig)
	config.NamespaceDir = s.T().TempDir()
	s.Require().NoError(VerifyConfig(config))

	config.Perm = 0400
	s.Require().ErrorIs(VerifyConfig(config), ErrInvalidConfig)
	config.Perm = 0600 | 1<<31
	s.Require().ErrorIs(VerifyConfig(config), ErrInvalidConfig)
	config.Perm = 0660
	s.Require().NoError(VerifyConfig(config))

	config.Init = InitPolicy(7)
	s.Require().ErrorIs(VerifyConfig(config), ErrInvalidConfig)
	config.Init = InitAlways
	s.Require().NoError(VerifyConfig(config))

	config.InitTimeout = 0
	s.Require().ErrorIs(VerifyConfig(config), ErrInvalidConfig)
	config.InitTimeout = time.Millisecond
	s.Require().NoError(VerifyConfig(config))
}

func (s *ConfigTestSuite) TestDefaultConfigFromEnv() {
	s.T().Setenv("SHMARC_NAMESPACE_DIR", "/run/shmarc")
	s.T().Setenv("SHMARC_INIT_TIMEOUT", "250ms")
	config := DefaultConfig()
	s.Equal("/run/shmarc", config.NamespaceDir)
	s.Equal(250*time.Millisecond, config.InitTimeout)
	s.Equal(InitIfCreated, config.Init)

	s.T().Setenv("SHMARC_INIT_TIMEOUT", "soon")
	s.Equal(defaultInitTimeout, DefaultConfig().InitTimeout)
	s.T().Setenv("SHMARC_INIT_TIMEOUT", "-1s")
	s.Equal(defaultInitTimeout, DefaultConfig().InitTimeout)
}

func (s *ConfigTestSuite) TestInitPolicyString() {
	s.Equal("init-if-created", InitIfCreated.String())
	s.Equal("init-always", InitAlways.String())
	s.Equal("InitPolicy(9)", InitPolicy(9).String())
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}
