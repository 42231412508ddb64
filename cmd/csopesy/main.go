package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	getopt "github.com/pborman/getopt/v2"

	"github.com/loscuervos/csopesy/internal/logging"
	"github.com/loscuervos/csopesy/internal/shell"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "csopesy.txt", "Configuration file")
	optLogLevel := getopt.StringLong("log-level", 'l', "info", "Log level (debug, info, warn, error)")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	logging.Init(*optLogLevel, "csopesy")

	sh := shell.New(*optConfig)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nCSOPESY finalizing...")
		os.Exit(0)
	}()

	if err := sh.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "csopesy:", err)
		os.Exit(1)
	}
}
