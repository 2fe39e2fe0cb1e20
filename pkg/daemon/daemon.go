// Package daemon wires a serial link, the two SSP peers, the poll loop,
// their request routers and the bus together, and runs the process's
// single reactor loop until a quit signal arrives.
package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/metalab-kassomat/kassomat-payout/internal/serialport"
	"github.com/metalab-kassomat/kassomat-payout/pkg/bus"
	"github.com/metalab-kassomat/kassomat-payout/pkg/device"
	"github.com/metalab-kassomat/kassomat-payout/pkg/poll"
	"github.com/metalab-kassomat/kassomat-payout/pkg/router"
)

// QuitCheckInterval is how often the reactor checks for a pending quit,
// matching the libevent "check quit" timer.
const QuitCheckInterval = 500 * time.Millisecond

// Config holds the daemon's external configuration, one field per CLI
// flag.
type Config struct {
	RedisHost    string
	RedisPort    int
	SerialDevice string
	AcceptCoins  bool
	LogToStderr  bool
	Debug        bool
}

// DefaultConfig returns the daemon's default configuration, matching the
// vendor tool's hardcoded defaults before flag parsing overrides them.
func DefaultConfig() Config {
	return Config{
		RedisHost:    "127.0.0.1",
		RedisPort:    6379,
		SerialDevice: "/dev/ttyACM0",
	}
}

// Daemon owns the process lifetime: the serial link, both peers, the
// poll loop, their routers and the bus.
type Daemon struct {
	cfg Config

	link      serialport.Link
	hopper    *device.Peer
	validator *device.Peer
	bus       bus.Bus
	quitOnce  bool
}

// New constructs a Daemon from cfg, opening the serial link and
// constructing both peers. It does not yet talk to either the hardware
// or the bus; call Run to do that.
func New(cfg Config) (*Daemon, error) {
	log.SetOutput(os.Stdout)
	if cfg.LogToStderr {
		log.SetOutput(io.MultiWriter(os.Stdout, os.Stderr))
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	port, err := serialport.Open(cfg.SerialDevice)
	if err != nil {
		return nil, fmt.Errorf("daemon: opening serial device: %w", err)
	}

	hopper := device.NewPeer("Mr. Coin", 0x10, port, &device.HopperBehavior{AcceptCoins: cfg.AcceptCoins})
	validator := device.NewPeer("Ms. Note", 0x00, port, &device.ValidatorBehavior{})

	return &Daemon{
		cfg:       cfg,
		link:      port,
		hopper:    hopper,
		validator: validator,
		bus:       bus.NewRedisBus(fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort)),
	}, nil
}

// Run connects the bus, initializes both peers, publishes the "started"
// event, then blocks until a quit signal (SIGINT/SIGTERM, or a bus
// "quit" command) arrives, at which point it publishes "exiting" and
// returns.
func (d *Daemon) Run(ctx context.Context) error {
	log.Infof("using redis at %s:%d and hardware device %s", d.cfg.RedisHost, d.cfg.RedisPort, d.cfg.SerialDevice)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := d.bus.Connect(ctx); err != nil {
		return fmt.Errorf("daemon: connecting bus: %w", err)
	}
	defer d.bus.Close()

	d.initializePeer(d.hopper)
	d.initializePeer(d.validator)

	hopperRouter := router.New(d.hopper, d.signalQuit)
	validatorRouter := router.New(d.validator, d.signalQuit)

	requests, err := d.bus.Subscribe(ctx, d.hopper.Behavior.RequestTopic(), d.validator.Behavior.RequestTopic(), "metacash")
	if err != nil {
		return fmt.Errorf("daemon: subscribing request topics: %w", err)
	}

	loop := poll.NewLoop([]*device.Peer{d.hopper, d.validator}, d.bus)
	go loop.Run(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	log.Infof("open for business")
	d.publish(ctx, "payout-event", `{"event":"started"}`)

	quitTicker := time.NewTicker(QuitCheckInterval)
	defer quitTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.publish(ctx, "payout-event", `{"event":"exiting"}`)
			return nil
		case s := <-sig:
			log.Infof("received signal %v, quitting", s)
			d.signalQuit()
		case <-quitTicker.C:
			if d.quitOnce {
				d.publish(ctx, "payout-event", `{"event":"exiting"}`)
				return nil
			}
		case msg := <-requests:
			d.handleRequest(ctx, msg, hopperRouter, validatorRouter)
		}
	}
}

func (d *Daemon) handleRequest(ctx context.Context, msg bus.Message, hopperRouter, validatorRouter *router.Router) {
	switch msg.Topic {
	case d.validator.Behavior.RequestTopic():
		out := validatorRouter.Dispatch(msg.Payload)
		d.publish(ctx, d.validator.Behavior.ResponseTopic(), string(out))
	case d.hopper.Behavior.RequestTopic():
		out := hopperRouter.Dispatch(msg.Payload)
		d.publish(ctx, d.hopper.Behavior.ResponseTopic(), string(out))
	case "metacash":
		log.Debugf("[DAEMON] received metacash message (no handler defined): %s", msg.Payload)
	}
}

func (d *Daemon) initializePeer(p *device.Peer) {
	if err := device.Initialize(p); err != nil {
		log.Warnf("[DAEMON] skipping configuration of device '%s', not available: %v", p.Name, err)
		return
	}
}

func (d *Daemon) publish(ctx context.Context, topic, payload string) {
	if err := d.bus.Publish(ctx, topic, []byte(payload)); err != nil {
		log.Warnf("[DAEMON] publishing to %s failed: %v", topic, err)
	}
}

// signalQuit is safe to call more than once or concurrently with the
// reactor's own quit-check tick; it merely flips a flag the reactor
// polls.
func (d *Daemon) signalQuit() {
	if d.quitOnce {
		return
	}
	d.quitOnce = true
}

// Close releases the serial link.
func (d *Daemon) Close() error {
	return d.link.Close()
}
