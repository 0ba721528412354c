package executor

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/axiomesh/treasury/core"
	"github.com/axiomesh/treasury/repo"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const installedVersionKey = "installedVersion"

var ErrHashMismatch = errors.New("code hash mismatch")

// Installer carries deploy calls: the code is a gzipped tarball holding the
// new treasury binary and its version.sh. It is unpacked next to the other
// downloads and handed to restart.sh of the install path.
type Installer struct {
	InstallPath  string
	DownloadPath string
	Logger       *logrus.Logger

	// Versions remembers the last installed version across restarts.
	Versions VersionStore
}

// VersionStore keeps the installed version.
type VersionStore interface {
	Get(key []byte) []byte
	Put(key, value []byte)
}

func NewInstaller(config *repo.Config, versions VersionStore, logger *logrus.Logger) *Installer {
	return &Installer{
		InstallPath:  config.Executor.InstallPath,
		DownloadPath: config.DownloadPath(),
		Logger:       logger,
		Versions:     versions,
	}
}

func (i *Installer) Execute(ctx context.Context, call *core.Call) ([]byte, error) {
	if call.Kind != core.CallDeploy {
		return nil, errors.Wrapf(core.ErrUnsupportedAction, "installer can not carry %s calls", call.Kind)
	}
	if err := checkHash(call.Code, call.CodeHash); err != nil {
		return nil, err
	}

	if _, err := os.Stat(i.DownloadPath); err != nil {
		if err := os.MkdirAll(i.DownloadPath, 0775); err != nil {
			return nil, err
		}
	}
	archive := filepath.Join(i.DownloadPath, fmt.Sprintf("treasury-%x.tar.gz", call.CodeHash[:8]))
	if err := os.WriteFile(archive, call.Code, 0644); err != nil {
		return nil, errors.Wrap(err, "write archive")
	}

	binPath, err := i.decompress(ctx, archive)
	if err != nil {
		return nil, err
	}
	version, err := i.version(ctx, binPath)
	if err != nil {
		return nil, err
	}
	if current := string(i.Versions.Get([]byte(installedVersionKey))); current == version {
		i.Logger.Infof("version %s is already installed", version)
		return []byte(version), nil
	}

	if err := i.restart(ctx, binPath); err != nil {
		return nil, err
	}
	i.Versions.Put([]byte(installedVersionKey), []byte(version))

	i.Logger.WithFields(logrus.Fields{
		"version": version,
		"hash":    call.CodeHash.Hex(),
	}).Info("restart successful")
	return []byte(version), nil
}

func checkHash(code []byte, hash common.Hash) error {
	sum := common.Hash(sha256.Sum256(code))
	if sum != hash {
		return errors.Wrapf(ErrHashMismatch, "source hash: %s, target hash: %s", hash, sum)
	}
	return nil
}

// decompress unpacks archive into a fresh directory and returns the path of
// the binary inside.
func (i *Installer) decompress(ctx context.Context, archive string) (string, error) {
	dir := filepath.Dir(archive)
	dstDirName := fmt.Sprintf("treasury-%d", time.Now().UnixNano())
	dstPath := filepath.Join(dir, dstDirName)
	if err := os.Mkdir(dstPath, 0755); err != nil {
		return "", errors.Wrapf(err, "mkdir %s", dstPath)
	}

	execCmd := fmt.Sprintf("cd %s && tar -zxf %s -C ./%s", dir, filepath.Base(archive), dstDirName)
	i.Logger.Debugf("execute command: %s", execCmd)
	if out, err := exec.CommandContext(ctx, "bash", "-c", execCmd).CombinedOutput(); err != nil {
		return "", errors.Wrapf(err, "decompress: %s", out)
	}
	return filepath.Join(dstPath, "treasury"), nil
}

// version runs version.sh next to binPath. Its output looks like
// "Treasury version: v1.2.3".
func (i *Installer) version(ctx context.Context, binPath string) (string, error) {
	dir := filepath.Dir(binPath)
	if _, err := os.Stat(filepath.Join(dir, "version.sh")); err != nil {
		return "", err
	}

	out, err := exec.CommandContext(ctx, "bash", "-c", fmt.Sprintf("cd %s && bash version.sh", dir)).Output()
	if err != nil {
		return "", errors.Wrap(err, "run version.sh")
	}
	_, version, found := strings.Cut(string(out), ": ")
	if !found {
		return "", errors.New("version output does not contain ':'")
	}
	version = strings.TrimSpace(strings.Split(version, "\n")[0])
	i.Logger.Infof("version is: %s", version)
	return version, nil
}

func (i *Installer) restart(ctx context.Context, binPath string) error {
	if _, err := os.Stat(filepath.Join(i.InstallPath, "restart.sh")); err != nil {
		return err
	}

	execCmd := fmt.Sprintf("cd %s && bash restart.sh %s", i.InstallPath, binPath)
	i.Logger.Debugf("exec restart command: %s", execCmd)
	if out, err := exec.CommandContext(ctx, "bash", "-c", execCmd).CombinedOutput(); err != nil {
		return errors.Wrapf(err, "restart: %s", out)
	}
	return nil
}
