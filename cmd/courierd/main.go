package main

import (
	"fmt"
	"os"

	"github.com/matheus3301/courier/internal/daemon"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	flags := pflag.NewFlagSet("courierd", pflag.ContinueOnError)
	configFlag := flags.String("config", "", "config file (default ~/.courier/config.toml)")
	dataDirFlag := flags.String("data-dir", "", "data directory (overrides config data_dir)")
	socketFlag := flags.String("socket", "", "unix socket path (default <data-dir>/courierd.sock)")
	httpFlag := flags.String("http", "", `websocket gateway address, or "off" (overrides config http_addr)`)
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			ConfigPath: *configFlag,
			DataDir:    *dataDirFlag,
			SocketPath: *socketFlag,
			HTTPAddr:   *httpFlag,
		}),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
	)

	app.Run()
}
