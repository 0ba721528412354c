package repo

import (
	"bytes"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/holiman/uint256"
	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	rootPathEnvVar = "TREASURY_PATH"

	envPrefix = "TREASURY"

	cfgFileName = "treasury.toml"

	defaultRepoRoot = "~/.treasury"

	LogsDirName = "logs"

	LevelDBDirName = "leveldb"

	DownloadDirName = "download"

	DefaultDAOAccount = "0x0000000000000000000000000000000000002001"
)

var ErrInvalidConfig = errors.New("invalid config")

type Repo struct {
	Config *Config
}

// Exist check if the file with the given path exits.
func Exist(path string) bool {
	fi, err := os.Lstat(path)
	if fi != nil || (err != nil && !os.IsNotExist(err)) {
		return true
	}

	return false
}

// Load reads treasury.toml under the repo root, writing the defaults first
// when there is none. Environment variables prefixed with TREASURY_ override
// file values.
func Load(repoRoot string) (*Repo, error) {
	rootPath, err := LoadRepoRootFromEnv(repoRoot)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig(rootPath)

	cfgPath := path.Join(rootPath, cfgFileName)
	if !Exist(cfgPath) {
		if err := os.MkdirAll(rootPath, 0755); err != nil {
			return nil, errors.Wrap(err, "failed to build default config")
		}
		if err := writeConfigWithEnv(cfgPath, cfg); err != nil {
			return nil, errors.Wrap(err, "failed to build default config")
		}
	} else {
		if err := CheckWritable(rootPath); err != nil {
			return nil, err
		}
		if err := readConfigFromFile(cfgPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "read %s", cfgPath)
		}
	}

	if cfg.Executor.InstallPath, err = homedir.Expand(cfg.Executor.InstallPath); err != nil {
		return nil, errors.Wrap(err, "failed to expand install path")
	}
	if cfg.DAO.PolicyFile != "" {
		if cfg.DAO.PolicyFile, err = homedir.Expand(cfg.DAO.PolicyFile); err != nil {
			return nil, errors.Wrap(err, "failed to expand policy file")
		}
	}

	return &Repo{
		Config: cfg,
	}, nil
}

func (r *Repo) Flush() error {
	if err := writeConfigWithEnv(path.Join(r.Config.RepoRoot, cfgFileName), r.Config); err != nil {
		return errors.Wrap(err, "failed to write config")
	}

	return nil
}

// Validate checks what the daemon can not fix at runtime. The genesis
// settings are only checked when they will be used.
func (c *Config) Validate() error {
	if c.DAO.AccountID == "" {
		return errors.Wrap(ErrInvalidConfig, "dao.account_id is empty")
	}
	for name, amount := range map[string]string{
		"dao.proposal_bond": c.DAO.ProposalBond,
		"dao.bounty_bond":   c.DAO.BountyBond,
	} {
		if amount == "" {
			continue
		}
		if _, err := uint256.FromDecimal(amount); err != nil {
			return errors.Wrapf(ErrInvalidConfig, "%s %q: %s", name, amount, err)
		}
	}
	if c.DAO.PolicyFile != "" && !Exist(c.DAO.PolicyFile) {
		return errors.Wrapf(ErrInvalidConfig, "dao.policy_file %s not found", c.DAO.PolicyFile)
	}
	if _, _, err := net.SplitHostPort(c.API.ListenAddr); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "api.listen_addr %q: %s", c.API.ListenAddr, err)
	}
	if c.Executor.ReceiptRetries == 0 {
		return errors.Wrap(ErrInvalidConfig, "executor.receipt_retries must be positive")
	}
	return nil
}

func (c *Config) LevelDBPath() string {
	return filepath.Join(c.RepoRoot, LevelDBDirName)
}

func (c *Config) DownloadPath() string {
	return filepath.Join(c.RepoRoot, DownloadDirName)
}

func (c *Config) LogsPath() string {
	return filepath.Join(c.RepoRoot, LogsDirName)
}

func writeConfigWithEnv(cfgPath string, config any) error {
	if err := writeConfig(cfgPath, config); err != nil {
		return err
	}
	// write back environment variables first
	if err := readConfigFromFile(cfgPath, config); err != nil {
		return errors.Wrapf(err, "failed to read cfg from environment")
	}
	return writeConfig(cfgPath, config)
}

func writeConfig(cfgPath string, config any) error {
	raw, err := MarshalConfig(config)
	if err != nil {
		return err
	}
	return os.WriteFile(cfgPath, []byte(raw), 0644)
}

func MarshalConfig(config any) (string, error) {
	buf := bytes.NewBuffer([]byte{})
	e := toml.NewEncoder(buf)
	e.SetIndentTables(true)
	e.SetArraysMultiline(true)
	if err := e.Encode(config); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// LoadRepoRootFromEnv resolves the repo root: the given path, then
// TREASURY_PATH, then ~/.treasury.
func LoadRepoRootFromEnv(repoRoot string) (string, error) {
	if repoRoot != "" {
		return repoRoot, nil
	}
	repoRoot = os.Getenv(rootPathEnvVar)
	var err error
	if len(repoRoot) == 0 {
		repoRoot, err = homedir.Expand(defaultRepoRoot)
	}
	return repoRoot, err
}

func readConfigFromFile(cfgFilePath string, config any) error {
	vp := viper.New()
	vp.SetConfigFile(cfgFilePath)
	vp.SetConfigType("toml")
	vp.AutomaticEnv()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := vp.ReadInConfig(); err != nil {
		return err
	}
	return vp.Unmarshal(config)
}

func CheckWritable(dir string) error {
	_, err := os.Stat(dir)
	if err == nil {
		// dir exists, make sure we can write to it
		testfile := filepath.Join(dir, "test")
		fi, err := os.Create(testfile)
		if err != nil {
			if os.IsPermission(err) {
				return errors.Errorf("%s is not writeable by the current user", dir)
			}
			return errors.Wrap(err, "unexpected error while checking writeablility of repo root")
		}
		fi.Close()
		return os.Remove(testfile)
	}

	if os.IsNotExist(err) {
		// dir doesn't exist, check that we can create it
		return os.Mkdir(dir, 0775)
	}

	if os.IsPermission(err) {
		return errors.Errorf("cannot write to %s, incorrect permissions", dir)
	}

	return err
}
