// Command nimbus-weather is an MCP tool server speaking JSON-RPC over stdio.
// It exposes National Weather Service alerts and forecasts plus place
// geocoding as tools.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/effective-security/xlog"
	"github.com/nimbus-ai/nimbus/mcp"
	"github.com/nimbus-ai/nimbus/mcp/transport/stdiotransport"
	"github.com/nimbus-ai/nimbus/tools/weather"
)

type CLI struct {
	Debug bool `kong:"short='D',help='Enable debug logging to stderr'"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("nimbus-weather"),
		kong.Description("Weather MCP tool server over stdio"),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(run(&cli))
}

func run(cli *CLI) error {
	// stdout carries the protocol; all logging goes to stderr.
	xlog.SetFormatter(xlog.NewStringFormatter(os.Stderr))
	if cli.Debug {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	} else {
		xlog.SetGlobalLogLevel(xlog.ERROR)
	}

	srv := mcp.NewServer("weather", "1.0.0")
	if err := weather.Register(srv, weather.New()); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return srv.Serve(ctx, stdiotransport.NewPipe(os.Stdin, os.Stdout))
}
