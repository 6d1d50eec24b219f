package main

import (
	"flag"

	"go.uber.org/fx"

	"github.com/jmadeira/wabridge/internal/daemon"
	"github.com/jmadeira/wabridge/internal/paths"
)

func main() {
	configFlag := flag.String("config", paths.ConfigPath(paths.DefaultDataDir()), "path to config file")
	flag.Parse()

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: *configFlag}),
	)

	app.Run()
}
