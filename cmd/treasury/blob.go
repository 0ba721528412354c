package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/axiomesh/treasury/api"
	"github.com/axiomesh/treasury/executor"
	"github.com/axiomesh/treasury/repo"
	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
)

var blobCMD = &cli.Command{
	Name:  "blob",
	Usage: "The code blob commands",
	Subcommands: []*cli.Command{
		{
			Name:  "fetch",
			Usage: "Fetch a code blob from the configured mirrors and store it in a running treasury",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "hash",
					Usage:    "sha256 of the blob",
					Required: true,
				},
				&cli.StringFlag{
					Name:     "account",
					Usage:    "account id the blob is stored for",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "api",
					Usage: "treasury api address, defaults to the configured listen address",
				},
			},
			Action: fetchBlob,
		},
	},
}

func fetchBlob(ctx *cli.Context) error {
	p, err := getRootPath(ctx)
	if err != nil {
		return err
	}
	r, err := repo.Load(p)
	if err != nil {
		return err
	}

	hash := common.HexToHash(ctx.String("hash"))
	code, err := executor.NewFetcher(r.Config.Executor.Mirrors, log.New()).Fetch(ctx.Context, hash)
	if err != nil {
		return err
	}

	addr := ctx.String("api")
	if addr == "" {
		addr = r.Config.API.ListenAddr
	}
	if !strings.HasPrefix(addr, "http") {
		addr = "http://" + addr
	}
	req, err := http.NewRequestWithContext(ctx.Context, http.MethodPost, strings.TrimSuffix(addr, "/")+"/blobs", bytes.NewReader(code))
	if err != nil {
		return err
	}
	req.Header.Set(api.HeaderAccountID, ctx.String("account"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("store blob: %s %s", resp.Status, body)
	}
	var reply struct {
		Hash common.Hash `json:"hash"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return err
	}
	fmt.Printf("stored blob %s (%d bytes)\n", reply.Hash, len(code))
	return nil
}
