package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/metalab-kassomat/kassomat-payout/pkg/daemon"
)

func main() {
	defaults := daemon.DefaultConfig()

	redisHost := flag.String("h", defaults.RedisHost, "redis hostname")
	redisPort := flag.Int("p", defaults.RedisPort, "redis port")
	serialDevice := flag.String("d", defaults.SerialDevice, "serial device name")
	acceptCoins := flag.Bool("c", defaults.AcceptCoins, "accept coins on the hopper")
	logToStderr := flag.Bool("e", defaults.LogToStderr, "also echo logs to stderr")
	debug := flag.Bool("debug", defaults.Debug, "enable debug logging")
	flag.Parse()

	cfg := daemon.Config{
		RedisHost:    *redisHost,
		RedisPort:    *redisPort,
		SerialDevice: *serialDevice,
		AcceptCoins:  *acceptCoins,
		LogToStderr:  *logToStderr,
		Debug:        *debug,
	}

	d, err := daemon.New(cfg)
	if err != nil {
		fmt.Printf("failed to start payout daemon: %v\n", err)
		os.Exit(1)
	}
	defer d.Close()

	if err := d.Run(context.Background()); err != nil {
		log.Errorf("payout daemon exited with error: %v", err)
		os.Exit(1)
	}
}
