package repo

import (
	"time"
)

type Config struct {
	RepoRoot string   `mapstructure:"-" toml:"-"`
	Log      Log      `mapstructure:"log" toml:"log"`
	DAO      DAO      `mapstructure:"dao" toml:"dao"`
	API      API      `mapstructure:"api" toml:"api"`
	Executor Executor `mapstructure:"executor" toml:"executor"`
}

type Log struct {
	Level        string        `mapstructure:"level" toml:"level"`
	Filename     string        `mapstructure:"filename" toml:"filename"`
	ReportCaller bool          `mapstructure:"report_caller" toml:"report_caller"`
	MaxAge       time.Duration `mapstructure:"max_age" toml:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time" toml:"rotation_time"`
}

// DAO holds the genesis settings applied when the state is empty.
// Once the state exists, the policy and config are only changed by proposals.
type DAO struct {
	AccountID string   `mapstructure:"account_id" toml:"account_id"`
	Name      string   `mapstructure:"name" toml:"name"`
	Purpose   string   `mapstructure:"purpose" toml:"purpose"`
	Council   []string `mapstructure:"council" toml:"council"`
	// amounts are decimal strings in the smallest unit of the native token
	ProposalBond            string        `mapstructure:"proposal_bond" toml:"proposal_bond"`
	ProposalPeriod          time.Duration `mapstructure:"proposal_period" toml:"proposal_period"`
	BountyBond              string        `mapstructure:"bounty_bond" toml:"bounty_bond"`
	BountyForgivenessPeriod time.Duration `mapstructure:"bounty_forgiveness_period" toml:"bounty_forgiveness_period"`
	// optional yaml policy, takes precedence over council
	PolicyFile string `mapstructure:"policy_file" toml:"policy_file"`
	FactoryID  string `mapstructure:"factory_id" toml:"factory_id"`
}

type API struct {
	ListenAddr    string `mapstructure:"listen_addr" toml:"listen_addr"`
	EnableMetrics bool   `mapstructure:"enable_metrics" toml:"enable_metrics"`
}

type Executor struct {
	DialUrl        string `mapstructure:"dial_url" toml:"dial_url"`
	PrivateKeyFile string `mapstructure:"private_key_file" toml:"private_key_file"`
	GasLimit       uint64 `mapstructure:"gas_limit" toml:"gas_limit"`
	// receipt polling of dispatched transactions
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval" toml:"receipt_poll_interval"`
	ReceiptRetries      uint          `mapstructure:"receipt_retries" toml:"receipt_retries"`
	// directory holding restart.sh and version.sh for self upgrades
	InstallPath string   `mapstructure:"install_path" toml:"install_path"`
	Mirrors     []string `mapstructure:"mirrors" toml:"mirrors"`
}

func DefaultConfig(repoRoot string) *Config {
	return &Config{
		RepoRoot: repoRoot,
		Log: Log{
			Level:        "info",
			Filename:     "treasury.log",
			ReportCaller: false,
			MaxAge:       30 * 24 * time.Hour,
			RotationTime: 24 * time.Hour,
		},
		DAO: DAO{
			AccountID:               DefaultDAOAccount,
			Name:                    "treasury",
			Purpose:                 "member controlled treasury",
			Council:                 []string{},
			ProposalBond:            "1000000000000000000",
			ProposalPeriod:          7 * 24 * time.Hour,
			BountyBond:              "1000000000000000000",
			BountyForgivenessPeriod: 24 * time.Hour,
		},
		API: API{
			ListenAddr:    "127.0.0.1:9191",
			EnableMetrics: true,
		},
		Executor: Executor{
			DialUrl:             "ws://localhost:9991",
			GasLimit:            300000,
			ReceiptPollInterval: 2 * time.Second,
			ReceiptRetries:      30,
			InstallPath:         "~/.axiom",
			Mirrors:             []string{},
		},
	}
}
