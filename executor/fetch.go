package executor

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Fetcher downloads code blobs from mirrors serving them under their hash.
type Fetcher struct {
	Mirrors []string
	Client  *http.Client
	Logger  *logrus.Logger

	Attempts uint
	Backoff  time.Duration
}

func NewFetcher(mirrors []string, logger *logrus.Logger) *Fetcher {
	return &Fetcher{
		Mirrors:  mirrors,
		Client:   http.DefaultClient,
		Logger:   logger,
		Attempts: 5,
		Backoff:  5 * time.Second,
	}
}

// Fetch downloads the blob with hash from a random mirror, retrying on
// failure, and verifies its sha256.
func (f *Fetcher) Fetch(ctx context.Context, hash common.Hash) ([]byte, error) {
	urls := lo.Map(f.Mirrors, func(mirror string, _ int) string {
		return strings.TrimRight(mirror, "/") + "/" + hash.Hex()
	})
	if len(urls) == 0 {
		return nil, errors.New("download url list is empty")
	}
	maxInt := big.NewInt(int64(len(urls)))

	var code []byte
	action := func(attempt uint) error {
		index, err := rand.Int(rand.Reader, maxInt)
		if err != nil {
			return err
		}
		downloadUrl := urls[index.Uint64()]
		f.Logger.Debugf("download url: %s", downloadUrl)

		body, err := f.get(ctx, downloadUrl)
		if err != nil {
			f.Logger.WithField("attempt", attempt).Warnf("download %s error: %s", downloadUrl, err)
			return err
		}
		if err := checkHash(body, hash); err != nil {
			return err
		}
		code = body
		return nil
	}
	if err := retry.Retry(action, strategy.Limit(f.Attempts), strategy.Backoff(backoff.Fibonacci(f.Backoff))); err != nil {
		return nil, err
	}

	f.Logger.Infof("download file hash check passed")
	return code, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get download url error, status code: %v", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
