package main

import (
	"context"
	"expvar"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/op/go-logging"

	"github.com/dmguessant/xchangeldap/pkg/config"
	"github.com/dmguessant/xchangeldap/pkg/server"
	"github.com/dmguessant/xchangeldap/pkg/stats"
)

var version = "0.1"

const programName = "xchangeldap"

var log = logging.MustGetLogger(programName)

func main() {
	stderr := initLogging()
	log.Debug(fmt.Sprintf("%s start", programName))

	versionVar := new(expvar.String)
	versionVar.Set(version)
	stats.General.Set("version", versionVar)

	args, err := config.ParseArgs(nil, version)
	if err != nil {
		log.Fatal(err.Error())
	}

	cfg, err := config.Load(args.ConfigLocation, args.AwsKeyID, args.AwsSecretKey, args.AwsRegion)
	if err != nil {
		log.Fatal(fmt.Sprintf("Configuration file error: %s", err.Error()))
	}
	if cfg.Syslog {
		enableSyslog(stderr)
	}
	if cfg.Debug {
		logging.SetLevel(logging.DEBUG, programName)
		log.Debug("Debugging enabled")
	}

	gw, err := server.New(server.Logger(log), server.Config(cfg))
	if err != nil {
		log.Fatal(fmt.Sprintf("Gateway initialization failed: %s", err.Error()))
	}

	if cfg.WatchConfig {
		stopWatch, err := config.Watch(cfg, log, func(reloaded *config.Config) {
			log.Notice("configuration file changed; the running gateway keeps its current settings until restart")
		})
		if err != nil {
			log.Warning(fmt.Sprintf("config watch disabled: %s", err.Error()))
		} else {
			defer stopWatch()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Notice(fmt.Sprintf("%s shutting down", programName))
		gw.Shutdown()
		cancel()
	}()

	if err := gw.ListenAndServe(ctx); err != nil {
		log.Fatal(fmt.Sprintf("Gateway failed: %s", err.Error()))
	}
	log.Critical(fmt.Sprintf("%s exit", programName))
}

// initLogging sets up logging to stderr
func initLogging() *logging.LogBackend {
	format := "%{color}%{time:15:04:05.000000} %{shortfunc} ▶ %{level:.4s} %{id:03x}%{color:reset} %{message}"
	logBackend := logging.NewLogBackend(os.Stderr, "", 0)
	logging.SetBackend(logBackend)
	logging.SetLevel(logging.NOTICE, programName)
	logging.SetFormatter(logging.MustStringFormatter(format))
	return logBackend
}

// enableSyslog turns on syslog and turns off color
func enableSyslog(stderrBackend *logging.LogBackend) {
	format := "%{time:15:04:05.000000} %{shortfunc} ▶ %{level:.4s} %{id:03x} %{message}"
	logging.SetFormatter(logging.MustStringFormatter(format))
	syslogBackend, err := logging.NewSyslogBackend("")
	if err != nil {
		log.Fatal(err)
	}
	logging.SetBackend(stderrBackend, syslogBackend)
	log.Debug("Syslog enabled")
}
