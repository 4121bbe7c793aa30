package main

import (
	"fmt"
	"os"

	"github.com/brunobpinto/smart-trashcans/cmd/smart-trashcans/broker"
	"github.com/brunobpinto/smart-trashcans/cmd/smart-trashcans/console"
	"github.com/brunobpinto/smart-trashcans/cmd/smart-trashcans/downlink"
	"github.com/brunobpinto/smart-trashcans/cmd/smart-trashcans/serve"
	"github.com/brunobpinto/smart-trashcans/cmd/smart-trashcans/subcmd"
	"github.com/brunobpinto/smart-trashcans/internal/bridge"
	"github.com/brunobpinto/smart-trashcans/internal/config"
	"github.com/brunobpinto/smart-trashcans/log2"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"
)

var BuildVersion string = "unknown" // set by ldflags -X

var log = log2.NewStderr(log2.LDebug)

var modules = []subcmd.Mod{
	serve.Mod,
	downlink.Mod,
	console.Mod,
	broker.Mod,
}

func main() {
	flags := flag.NewFlagSet("smart-trashcans", flag.ExitOnError)
	flagConfig := flags.StringP("config", "c", "", "config file, empty means environment only")
	flagLogLevel := flags.String("log-level", "", "override log.level: error, info, debug")
	flagVersion := flags.Bool("version", false, "print build version and exit")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: smart-trashcans [flags] [command] [args]\ncommands (default serve):\n%s\nflags:\n%s",
			subcmd.Usage(modules), flags.FlagUsages())
	}
	_ = flags.Parse(os.Args[1:])

	if *flagVersion {
		fmt.Printf("smart-trashcans %s\n", BuildVersion)
		return
	}

	command := "serve"
	args := flags.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		flags.Usage()
		log.Fatal(err)
	}

	if subcmd.SdNotify("start") {
		// under systemd assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	var names []string
	if *flagConfig != "" {
		names = append(names, *flagConfig)
	}
	cfg, err := config.ReadOS(log, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	if *flagLogLevel != "" {
		cfg.Log.Level = *flagLogLevel
	}
	log.SetLevel(log2.ParseLevel(cfg.Log.Level))

	ctx, g := bridge.NewContext(log)
	g.BuildVersion = BuildVersion
	if err := mod.Main(ctx, cfg, args); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
