// Package config provides a reusable loader for oraclegridd node
// configuration files and environment variables. It is versioned so that
// applications can depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"bytes"
	"fmt"
	"os"

	tomlv2 "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"oraclegridd/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for an oraclegridd node, covering
// the environment selector, connection limits, storage location,
// consensus constants and JSON-RPC/mining toggles.
type Config struct {
	Environment string `mapstructure:"environment" json:"environment"`

	Connections struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		OutboundLimit  int      `mapstructure:"outbound_limit" json:"outbound_limit"`
	} `mapstructure:"connections" json:"connections"`

	Storage struct {
		DBPath              string `mapstructure:"db_path" json:"db_path"`
		SnapshotEveryEpochs uint32 `mapstructure:"snapshot_every_epochs" json:"snapshot_every_epochs"`
	} `mapstructure:"storage" json:"storage"`

	ConsensusConstants struct {
		EpochDurationMS    uint64 `mapstructure:"epoch_duration_ms" json:"epoch_duration_ms"`
		TargetBlockTimeMS  uint64 `mapstructure:"target_block_time_ms" json:"target_block_time_ms"`
		DifficultyWindow   uint32 `mapstructure:"difficulty_window_epochs" json:"difficulty_window_epochs"`

		// ReputationPenalizationFactorNum is the fixed-point numerator (over
		// chain.FixedPointScale) of the factor Penalize raises to the
		// lies_count power.
		ReputationPenalizationFactorNum uint64 `mapstructure:"reputation_penalization_factor_num" json:"reputation_penalization_factor_num"`
		// ReputationIssuance is the amount credited to a truthful witness
		// per tally.
		ReputationIssuance uint64 `mapstructure:"reputation_issuance" json:"reputation_issuance"`
		// ReputationExpireAlphaWindow is how many alpha ticks a reputation
		// gain survives before it becomes eligible for expiration.
		ReputationExpireAlphaWindow uint32 `mapstructure:"reputation_expire_alpha_window" json:"reputation_expire_alpha_window"`
		ActivityWindowSize int    `mapstructure:"activity_window_size" json:"activity_window_size"`

		CommitteeSize      int    `mapstructure:"superblock_committee_size" json:"superblock_committee_size"`
		ExtraVotingRounds  int    `mapstructure:"superblock_extra_rounds" json:"superblock_extra_rounds"`
		ActivationEpochV2  uint32 `mapstructure:"activation_epoch_v2" json:"activation_epoch_v2"`
	} `mapstructure:"consensus_constants" json:"consensus_constants"`

	JSONRPC struct {
		Enabled    bool   `mapstructure:"enabled" json:"enabled"`
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"jsonrpc" json:"jsonrpc"`

	Mining struct {
		Enabled bool `mapstructure:"enabled" json:"enabled"`
	} `mapstructure:"mining" json:"mining"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	Genesis struct {
		File string `mapstructure:"file" json:"file"`
		Hash string `mapstructure:"hash" json:"hash"`
	} `mapstructure:"genesis" json:"genesis"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Default returns a Config with the development consensus-constants table:
// GenV2 encoding active from genesis, short epochs suited to a local
// testnet, and mining/JSON-RPC disabled.
func Default() Config {
	var c Config
	c.Environment = "development"
	c.Connections.ListenAddr = "/ip4/0.0.0.0/tcp/21337"
	c.Connections.DiscoveryTag = "oraclegridd"
	c.Connections.OutboundLimit = 8
	c.Storage.DBPath = "./data"
	c.Storage.SnapshotEveryEpochs = 1000
	c.ConsensusConstants.EpochDurationMS = 45000
	c.ConsensusConstants.TargetBlockTimeMS = 45000
	c.ConsensusConstants.DifficultyWindow = 100
	c.ConsensusConstants.ReputationPenalizationFactorNum = 500_000_000
	c.ConsensusConstants.ReputationIssuance = 100
	c.ConsensusConstants.ReputationExpireAlphaWindow = 5000
	c.ConsensusConstants.ActivityWindowSize = 100
	c.ConsensusConstants.CommitteeSize = 100
	c.ConsensusConstants.ExtraVotingRounds = 3
	c.ConsensusConstants.ActivationEpochV2 = 0
	c.Logging.Level = "info"
	return c
}

// Load reads a TOML configuration file at path, merging it over the
// development defaults, then applies ORACLEGRIDD_-prefixed environment
// overrides via viper (following the teacher's prior viper.AutomaticEnv
// usage). The result is stored in AppConfig and returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	var raw []byte
	if path != "" {
		var err error
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, utils.Wrap(err, "read config file")
		}
		if err := tomlv2.Unmarshal(raw, &cfg); err != nil {
			return nil, utils.Wrap(err, "parse toml config")
		}
	}

	v := viper.New()
	v.SetEnvPrefix("ORACLEGRIDD")
	v.AutomaticEnv()
	if len(raw) > 0 {
		v.SetConfigType("toml")
		if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
			return nil, utils.Wrap(err, "viper read config")
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, utils.Wrap(err, "unmarshal config overrides")
	}

	AppConfig = cfg
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ORACLEGRIDD_CONFIG_PATH
// environment variable, falling back to pure defaults if unset.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("ORACLEGRIDD_CONFIG_PATH", ""))
}

// Validate checks the configuration for values the node cannot safely
// start with.
func (c *Config) Validate() error {
	if c.ConsensusConstants.EpochDurationMS == 0 {
		return fmt.Errorf("config: consensus_constants.epoch_duration_ms must be positive")
	}
	if c.ConsensusConstants.CommitteeSize <= 0 {
		return fmt.Errorf("config: consensus_constants.superblock_committee_size must be positive")
	}
	return nil
}
