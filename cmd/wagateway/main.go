package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/app"
	"github.com/talkincode/wagateway/internal/gateway"
	"github.com/talkincode/wagateway/internal/relay"
	"github.com/talkincode/wagateway/internal/restapi"
	"github.com/talkincode/wagateway/internal/webserver"
	"github.com/talkincode/wagateway/internal/whatsapp"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "/etc/wagateway.yml"

var (
	h        = pflag.BoolP("help", "h", false, "help usage")
	showVer  = pflag.BoolP("version", "v", false, "show version")
	conffile = pflag.StringP("conf", "c", "", "config yaml file")
	initcfg  = pflag.Bool("initcfg", false, "print the default config yaml")
)

func printHelp() {
	if *h {
		ustr := fmt.Sprintf("wagateway version: %s, Usage: wagateway -h\nOptions:", restapi.Version)
		_, _ = fmt.Fprintln(os.Stderr, ustr)
		pflag.PrintDefaults()
		os.Exit(0)
	}
}

func configFile() string {
	if *conffile != "" {
		return *conffile
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

func main() {
	pflag.Parse()

	if *showVer {
		fmt.Println(restapi.Version)
		os.Exit(0)
	}
	printHelp()

	if *initcfg {
		data, err := yaml.Marshal(config.DefaultAppConfig)
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(configFile())
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	app.InitLogger(cfg)

	if err := run(cfg); err != nil {
		zap.L().Error("wagateway exited with error", zap.Error(err))
		_ = zap.L().Sync()
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig) error {
	application := app.NewApplication(cfg)
	if err := application.Init(); err != nil {
		return err
	}
	defer application.Release()

	provider, err := whatsapp.NewProvider(cfg.GetAuthDir())
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Close(); err != nil {
			zap.L().Warn("close session stores", zap.Error(err))
		}
	}()
	accounts := application.Accounts().WithSessions(provider)

	bus := relay.NewBus()
	manager := gateway.NewManager(provider, gateway.Options{
		ReconnectDelay:   cfg.Gateway.ReconnectDelay,
		PairingWait:      cfg.Gateway.PairingWait,
		LogoutOnShutdown: cfg.Gateway.LogoutOnShutdown,
		Credentials:      accounts,
		Notifier:         bus,
	})
	application.AttachGateway(manager)
	dispatcher := gateway.NewDispatcher(manager, cfg.Gateway.RequireOpenForSend)

	hub := relay.NewHub()
	defer hub.Close()
	ledger := relay.NewRecorder(accounts)
	if err := bus.Subscribe(ledger.Handle); err != nil {
		return err
	}
	if err := bus.Subscribe(hub.Handle); err != nil {
		return err
	}
	if cfg.Mqtt.Enabled {
		publisher, err := relay.NewPublisher(cfg.Mqtt)
		if err != nil {
			return err
		}
		defer publisher.Close()
		if err := bus.Subscribe(publisher.Handle); err != nil {
			return err
		}
	}

	srv, err := webserver.NewWebServer(cfg)
	if err != nil {
		return err
	}
	restapi.New(manager, dispatcher, restapi.Options{
		Events:  hub,
		History: accounts,
		Debug:   cfg.System.Debug,
	}).Register(srv)

	if cfg.Gateway.RestoreOnStart {
		go func() {
			if _, err := application.RestoreSessions(context.Background(), manager); err != nil {
				zap.L().Error("restore sessions failed", zap.Error(err))
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		zap.L().Info("shutting down", zap.String("signal", s.String()))
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout)
	defer cancel()
	if err := manager.Shutdown(ctx); err != nil {
		zap.L().Warn("gateway shutdown incomplete", zap.Error(err))
	}
	if err := srv.Shutdown(ctx); err != nil {
		zap.L().Warn("web server shutdown incomplete", zap.Error(err))
	}
	bus.Wait()
	flushCtx, flushCancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout)
	defer flushCancel()
	if err := ledger.Close(flushCtx); err != nil {
		zap.L().Warn("status ledger flush incomplete", zap.Error(err))
	}
	zap.L().Info("wagateway stopped")
	return nil
}
