package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/antigravity-router/antigravity-proxy/internal/api"
	"github.com/antigravity-router/antigravity-proxy/internal/api/handlers"
	"github.com/antigravity-router/antigravity-proxy/internal/auth"
	"github.com/antigravity-router/antigravity-proxy/internal/cache"
	"github.com/antigravity-router/antigravity-proxy/internal/config"
	"github.com/antigravity-router/antigravity-proxy/internal/logging"
	"github.com/antigravity-router/antigravity-proxy/internal/pool"
	"github.com/antigravity-router/antigravity-proxy/internal/proxy"
	"github.com/antigravity-router/antigravity-proxy/internal/registry"
	"github.com/antigravity-router/antigravity-proxy/internal/upstream"
	"github.com/antigravity-router/antigravity-proxy/internal/util"

	// dialect translators register themselves on import
	_ "github.com/antigravity-router/antigravity-proxy/internal/translator/claude"
	_ "github.com/antigravity-router/antigravity-proxy/internal/translator/openai"
	_ "github.com/antigravity-router/antigravity-proxy/internal/translator/openai/responses"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

type LogFormatter struct {
}

func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	newLog := fmt.Sprintf("[%s] [%s] [%s:%d] %s\n", timestamp, entry.Level, path.Base(entry.Caller.File), entry.Caller.Line, entry.Message)

	b.WriteString(newLog)
	return b.Bytes(), nil
}

func init() {
	log.SetOutput(os.Stdout)
	log.SetReportCaller(true)
	log.SetFormatter(&LogFormatter{})
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Configure File Path")
	flag.Parse()

	if configPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to get working directory: %v", err)
		}
		configPath = path.Join(wd, "config.yaml")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetLogLevel(cfg.Debug)

	store, err := auth.NewStore(cfg.AccountsFile)
	if err != nil {
		log.Fatalf("failed to open account store %s: %v", cfg.AccountsFile, err)
	}
	defer func() {
		_ = store.Close()
	}()

	accountPool, err := pool.NewPool(store, auth.NewOAuthRefresher())
	if err != nil {
		log.Fatalf("failed to load accounts: %v", err)
	}
	if accountPool.Count() == 0 {
		log.Warnf("no accounts in %s, requests will fail until accounts are added", cfg.AccountsFile)
	} else {
		log.Infof("loaded %d account(s) from %s", accountPool.Count(), cfg.AccountsFile)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signatures := cache.NewSignatureCache()
	sweepStop := make(chan struct{})
	signatures.StartSweeper(5*time.Minute, sweepStop)
	defer close(sweepStop)

	reg := registry.NewRegistry(cfg.Routes, cfg.DefaultModel)
	client := upstream.NewClient(&cfg.Proxy)
	orchestrator := proxy.NewOrchestrator(client, accountPool, reg, signatures,
		cfg.Proxy.SwitchPreviewModel, cfg.Proxy.DefaultProjectID)

	var requestLogger *logging.RequestLogger
	if cfg.RequestLog {
		requestLogger = logging.NewRequestLogger("logs/request.log")
		defer func() {
			_ = requestLogger.Close()
		}()
	}

	server, err := api.NewServer(cfg, handlers.Deps{
		Orchestrator: orchestrator,
		Registry:     reg,
		Signatures:   signatures,
	}, accountPool, requestLogger, Version)
	if err != nil {
		log.Fatalf("failed to build API server: %v", err)
	}

	watcher := config.NewWatcher(configPath, func(newCfg *config.Config) {
		util.SetLogLevel(newCfg.Debug)
		reg.UpdateRoutes(newCfg.Routes, newCfg.DefaultModel)
		client.UpdateEndpoints(upstream.ResolveEndpoints(newCfg.Proxy.Endpoints))
		server.UpdateConfig(newCfg)
	})
	if err = watcher.Start(ctx); err != nil {
		log.Warnf("config hot-reload disabled: %v", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Infof("received %s, shutting down", sig)
	case err = <-errChan:
		if err != nil {
			log.Fatalf("API server failed: %v", err)
		}
		return
	}

	if err = server.Stop(context.Background()); err != nil {
		log.Errorf("shutdown error: %v", err)
	}
	log.Info("server stopped")
}
