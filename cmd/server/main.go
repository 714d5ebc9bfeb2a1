// Package main provides the entry point for the codexgate server.
// The server manages the Codex OAuth credential and exposes a streaming completion
// gateway with model fallback, plus a management API that drives the login flow.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/router-for-me/codexgate/internal/api"
	"github.com/router-for-me/codexgate/internal/auth/codex"
	"github.com/router-for-me/codexgate/internal/buildinfo"
	"github.com/router-for-me/codexgate/internal/cmd"
	"github.com/router-for-me/codexgate/internal/config"
	"github.com/router-for-me/codexgate/internal/logging"
	"github.com/router-for-me/codexgate/internal/runtime/executor"
	"github.com/router-for-me/codexgate/internal/store"
	"github.com/router-for-me/codexgate/internal/util"
	"github.com/router-for-me/codexgate/internal/watcher"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	os.Exit(run())
}

// run starts the login flow or the server and returns the process exit code.
func run() int {
	fmt.Printf("codexgate %s\n", buildinfo.String())

	var configPath string
	var login bool
	var noBrowser bool
	flag.StringVar(&configPath, "config", "", "Configure File Path")
	flag.BoolVar(&login, "login", false, "Login to Codex using OAuth")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically for OAuth")
	flag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return 1
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, fs.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	if configPath == "" {
		configPath = filepath.Join(wd, "config.yaml")
	}
	loadConfig := func(path string) (*config.Config, error) {
		return config.LoadConfigWithEnv(path, os.LookupEnv)
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return 1
	}

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return 1
	}
	util.SetLogLevel(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancelOpen := context.WithTimeout(ctx, 30*time.Second)
	credentials, closeStore, err := store.Open(openCtx, cfg)
	cancelOpen()
	if err != nil {
		log.Errorf("failed to open credential store: %v", err)
		return 1
	}
	defer func() {
		if errClose := closeStore(); errClose != nil {
			log.Warnf("failed to close credential store: %v", errClose)
		}
	}()

	authSvc := codex.NewCodexAuth(cfg)
	manager := codex.NewManager(codex.ManagerOptions{
		Auth:         authSvc,
		Store:        credentials,
		CallbackPort: cfg.OAuth.CallbackPort,
		Timeout:      cfg.OAuth.Timeout,
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if errClose := manager.Close(closeCtx); errClose != nil {
			log.Warnf("failed to stop oauth callback server: %v", errClose)
		}
	}()

	if login {
		errLogin := cmd.DoCodexLogin(ctx, manager, &cmd.LoginOptions{
			NoBrowser:    noBrowser,
			CallbackPort: cfg.OAuth.CallbackPort,
			Prompt:       stdinPrompt(),
		})
		if errLogin != nil {
			if authErr, ok := errors.AsType[*codex.AuthenticationError](errLogin); ok {
				log.Error(codex.GetUserFriendlyMessage(authErr))
				if authErr.Type == codex.ErrPortInUse.Type {
					return codex.ErrPortInUse.Code
				}
				return 1
			}
			fmt.Printf("Codex authentication failed: %v\n", errLogin)
			return 1
		}
		return 0
	}

	accessor := codex.NewAccessor(credentials, authSvc, cfg.OAuth.RefreshLead)
	completions := executor.NewCodexExecutor(cfg, accessor)
	server := api.NewServer(cfg, manager, completions)

	configWatcher, err := watcher.NewWatcher(configPath, loadConfig, func(newCfg *config.Config) {
		completions.UpdateGateway(newCfg.Gateway)
		server.UpdateConfig(newCfg)
	})
	if err != nil {
		log.Warnf("config hot reload disabled: %v", err)
	} else {
		configWatcher.SetConfig(cfg)
		if errStart := configWatcher.Start(ctx); errStart != nil {
			log.Warnf("config hot reload disabled: %v", errStart)
		}
		defer func() { _ = configWatcher.Stop() }()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case errServe := <-serveErr:
		if errServe != nil {
			log.Errorf("server stopped: %v", errServe)
			return 1
		}
		return 0
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if errStop := server.Stop(shutdownCtx); errStop != nil {
		log.Warnf("graceful shutdown failed: %v", errStop)
		return 1
	}
	return 0
}

func stdinPrompt() func(string) (string, error) {
	reader := bufio.NewReader(os.Stdin)
	return func(prompt string) (string, error) {
		fmt.Print(prompt)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
}
