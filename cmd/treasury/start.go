package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/axiomesh/treasury"
	"github.com/axiomesh/treasury/api"
	"github.com/axiomesh/treasury/core"
	"github.com/axiomesh/treasury/executor"
	"github.com/axiomesh/treasury/repo"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
)

func start(ctx *cli.Context) error {
	p, err := getRootPath(ctx)
	if err != nil {
		return err
	}
	r, err := repo.Load(p)
	if err != nil {
		return err
	}
	if err := r.Config.Validate(); err != nil {
		return err
	}

	err = log.Initialize(
		log.WithReportCaller(r.Config.Log.ReportCaller),
		log.WithPersist(true),
		log.WithFilePath(r.Config.LogsPath()),
		log.WithFileName(r.Config.Log.Filename),
		log.WithMaxAge(r.Config.Log.MaxAge),
		log.WithRotationTime(r.Config.Log.RotationTime),
	)
	if err != nil {
		return fmt.Errorf("log initialize: %w", err)
	}

	printVersion()

	logger := log.New()
	logger.SetLevel(log.ParseLevel(r.Config.Log.Level))

	client, err := ethclient.DialContext(ctx.Context, r.Config.Executor.DialUrl)
	if err != nil {
		return err
	}
	key, err := executor.LoadKey(r.Config.Executor.PrivateKeyFile)
	if err != nil {
		return err
	}
	evm := executor.NewEVM(client, key, &r.Config.Executor, logger)
	logger.Infof("dispatching transactions from %s", evm.From())

	// the installer keeps its version in the treasury db, opened by NewDAO
	installer := executor.NewInstaller(r.Config, nil, logger)
	router := executor.NewRouter(ctx.Context, evm, installer, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	dao, err := core.NewDAO(ctx.Context, r.Config, router, core.WithRegisterer(reg))
	if err != nil {
		router.Close()
		return fmt.Errorf("new treasury error: %w", err)
	}
	installer.Versions = dao.DB

	server := api.NewServer(dao, &r.Config.API, reg, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	handleShutdown(dao, router, server, &wg)

	if err := dao.Start(); err != nil {
		return fmt.Errorf("start treasury failed: %w", err)
	}
	if err := server.Start(); err != nil {
		return fmt.Errorf("start api failed: %w", err)
	}

	fmt.Println("=============Treasury is ready=============")

	wg.Wait()

	return nil
}

func printVersion() {
	fmt.Printf("Treasury version: %s-%s-%s\n", treasury.CurrentVersion, treasury.CurrentBranch, treasury.CurrentCommit)
	fmt.Printf("App build date: %s\n", treasury.BuildDate)
	fmt.Printf("System version: %s\n", treasury.Platform)
	fmt.Printf("Golang version: %s\n", treasury.GoVersion)
	fmt.Println()
}

func handleShutdown(dao *core.DAO, router *executor.Router, server *api.Server, wg *sync.WaitGroup) {
	var stop = make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGTERM)
	signal.Notify(stop, syscall.SIGINT)

	go func() {
		<-stop
		fmt.Println("received interrupt signal, shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			fmt.Println("api shutdown:", err)
		}
		// in flight calls settle before the db closes
		router.Close()
		if err := dao.Stop(); err != nil {
			panic(err)
		}
		wg.Done()
		os.Exit(0)
	}()
}
