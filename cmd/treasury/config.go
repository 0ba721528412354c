package main

import (
	"fmt"
	"os"

	"github.com/axiomesh/treasury/core"
	"github.com/axiomesh/treasury/repo"
	"github.com/urfave/cli/v2"
)

var configCMD = &cli.Command{
	Name:  "config",
	Usage: "The config manage commands",
	Subcommands: []*cli.Command{
		{
			Name:   "generate",
			Usage:  "Generate default config",
			Action: generate,
		},
		{
			Name:   "show",
			Usage:  "Show the complete config processed by the environment variable",
			Action: show,
		},
		{
			Name:   "check",
			Usage:  "Check if the config file and the genesis policy are valid",
			Action: check,
		},
		{
			Name:   "rewrite-with-env",
			Usage:  "Rewrite config with env",
			Action: rewriteWithEnv,
		},
	},
}

func generate(ctx *cli.Context) error {
	p, err := getRootPath(ctx)
	if err != nil {
		return err
	}
	if repo.Exist(p) {
		fmt.Println("treasury repo already exists")
		return nil
	}

	if err := os.MkdirAll(p, 0755); err != nil {
		return err
	}

	r := &repo.Repo{
		Config: repo.DefaultConfig(p),
	}
	if err := r.Flush(); err != nil {
		return err
	}

	fmt.Printf("initializing treasury at %s\n", p)
	return nil
}

func loadExisting(ctx *cli.Context) (*repo.Repo, error) {
	p, err := getRootPath(ctx)
	if err != nil {
		return nil, err
	}
	if !repo.Exist(p) {
		return nil, fmt.Errorf("treasury repo %s not exist", p)
	}
	return repo.Load(p)
}

func show(ctx *cli.Context) error {
	r, err := loadExisting(ctx)
	if err != nil {
		return err
	}
	str, err := repo.MarshalConfig(r.Config)
	if err != nil {
		return err
	}
	fmt.Println(str)
	return nil
}

func check(ctx *cli.Context) error {
	r, err := loadExisting(ctx)
	if err != nil {
		return fmt.Errorf("config file format error, please check: %w", err)
	}

	if err := r.Config.Validate(); err != nil {
		return err
	}
	// the genesis policy is only read on an empty state, so check it up front
	if r.Config.DAO.PolicyFile != "" {
		policy, err := core.LoadPolicyFile(r.Config.DAO.PolicyFile)
		if err != nil {
			return fmt.Errorf("policy file error, please check: %w", err)
		}
		fmt.Printf("policy file ok: %d roles\n", len(policy.Roles))
	}
	fmt.Println("config ok")
	return nil
}

func rewriteWithEnv(ctx *cli.Context) error {
	r, err := loadExisting(ctx)
	if err != nil {
		return err
	}
	return r.Flush()
}

func getRootPath(ctx *cli.Context) (string, error) {
	return repo.LoadRepoRootFromEnv(ctx.String("repo"))
}
