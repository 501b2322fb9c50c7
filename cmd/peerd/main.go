// Package main provides a command-line harness for running one peer of
// the distributed hash table engine over UDP: join a network via a
// bootstrap contact, optionally store a value, optionally locate one, and
// then idle so its routing table keeps participating in refreshes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nyctern/kaddht/dht"
	"github.com/nyctern/kaddht/rpc"
	"github.com/nyctern/kaddht/transport"
)

// CLIConfig holds command-line configuration for one peer process.
type CLIConfig struct {
	name        string
	listen      string
	bootstrap   string
	bootName    string
	k           uint
	alpha       uint
	keysize     uint
	refresh     time.Duration
	queryTime   time.Duration
	store       string
	locate      string
	logLevel    string
	idleAfter   time.Duration
	help        bool
}

// parseCLIFlags parses command-line flags and returns the configuration.
// Peer flags: -name, -listen
// Network flags: -bootstrap, -bootstrap-name
// Tuning flags: -k, -alpha, -keysize, -refresh-interval, -query-timeout
// Operation flags: -store, -locate
// Logging flags: -log-level
// Help flag: -help
func parseCLIFlags() *CLIConfig {
	config := &CLIConfig{}

	flag.StringVar(&config.name, "name", "", "this peer's name (its key is derived from it)")
	flag.StringVar(&config.listen, "listen", ":0", "UDP address to listen on")

	flag.StringVar(&config.bootstrap, "bootstrap", "", "host:port of a bootstrap peer to join through")
	flag.StringVar(&config.bootName, "bootstrap-name", "", "name of the bootstrap peer (its key is derived from it)")

	flag.UintVar(&config.k, "k", 20, "bucket width and replication factor")
	flag.UintVar(&config.alpha, "alpha", 3, "initial lookup concurrency")
	flag.UintVar(&config.keysize, "keysize", 128, "bits per key")
	flag.DurationVar(&config.refresh, "refresh-interval", 15*time.Second, "nominal bucket/republish period, 0 disables")
	flag.DurationVar(&config.queryTime, "query-timeout", 5*time.Second, "per-RPC timeout in lookups")

	flag.StringVar(&config.store, "store", "", "key=value to store after joining")
	flag.StringVar(&config.locate, "locate", "", "key to locate after joining")

	flag.StringVar(&config.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.DurationVar(&config.idleAfter, "idle", 0, "how long to keep running after operations finish, 0 means forever")

	flag.BoolVar(&config.help, "help", false, "show help message")

	flag.Parse()
	return config
}

func printUsage() {
	fmt.Println("Distributed hash table peer daemon")
	fmt.Println("==================================")
	fmt.Println()
	fmt.Println("Runs a single peer, optionally joining the network through a")
	fmt.Println("bootstrap contact, storing one value, and locating one value.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s -name alice [options]\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  # First node in the network\n")
	fmt.Printf("  %s -name alice -listen :33445\n", os.Args[0])
	fmt.Println()
	fmt.Printf("  # Second node, joining through the first\n")
	fmt.Printf("  %s -name bob -listen :33446 -bootstrap 127.0.0.1:33445 -bootstrap-name alice\n", os.Args[0])
	fmt.Println()
	fmt.Printf("  # Store then locate a value\n")
	fmt.Printf("  %s -name carol -bootstrap 127.0.0.1:33445 -bootstrap-name alice -store greeting=hello -locate greeting\n", os.Args[0])
}

func validateCLIConfig(config *CLIConfig) error {
	if config.name == "" {
		return fmt.Errorf("-name is required")
	}
	if config.bootstrap != "" && config.bootName == "" {
		return fmt.Errorf("-bootstrap-name is required when -bootstrap is set")
	}
	if config.store != "" && !strings.Contains(config.store, "=") {
		return fmt.Errorf("-store must be in key=value form")
	}
	return nil
}

func buildConfig(cli *CLIConfig) dht.Config {
	return dht.Config{
		K:               int(cli.k),
		Alpha:           int(cli.alpha),
		KeySize:         int(cli.keysize),
		RefreshInterval: cli.refresh,
		QueryTimeout:    cli.queryTime,
		MaxTransports:   0,
	}
}

func setupSignalHandling(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	go func() {
		sig := <-sigChan
		logrus.WithFields(logrus.Fields{
			"signal": sig.String(),
		}).Info("received interrupt signal, shutting down")
		cancel()
	}()
}

func configureLogging(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(parsed)
	return nil
}

func main() {
	os.Exit(run())
}

// run executes the peer lifecycle and returns a process exit code.
func run() int {
	cli := parseCLIFlags()

	if cli.help {
		printUsage()
		return 0
	}
	if err := validateCLIConfig(cli); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "Use -help for usage information.")
		return 1
	}
	if err := configureLogging(cli.logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	tr, err := transport.NewUDPTransport(cli.listen)
	if err != nil {
		logrus.WithError(err).Error("failed to open UDP transport")
		return 1
	}
	defer tr.Close()

	cfg := buildConfig(cli)
	self := dht.DeriveKey(cli.name, cfg.KeySize)
	adapter := rpc.NewAdapter(self, cli.name, tr)

	peer, err := dht.NewPeer(cli.name, adapter, cfg)
	if err != nil {
		logrus.WithError(err).Error("failed to create peer")
		return 1
	}
	defer peer.Close()
	adapter.SetDispatcher(peer.Dispatcher())

	logrus.WithFields(logrus.Fields{
		"name":   cli.name,
		"key":    peer.Self().String(),
		"listen": tr.LocalAddr().String(),
	}).Info("peer started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	if cli.bootstrap != "" {
		if err := joinNetwork(ctx, peer, cli); err != nil {
			logrus.WithError(err).Error("join failed")
			return 1
		}
	}

	if cli.store != "" {
		if err := storeValue(ctx, peer, cli.store); err != nil {
			logrus.WithError(err).Error("store failed")
			return 1
		}
	}

	if cli.locate != "" {
		if err := locateValue(ctx, peer, cli.locate); err != nil {
			logrus.WithError(err).Error("locate failed")
			return 1
		}
	}

	if cli.idleAfter > 0 {
		select {
		case <-time.After(cli.idleAfter):
		case <-ctx.Done():
		}
	} else {
		<-ctx.Done()
	}

	return 0
}

func joinNetwork(ctx context.Context, peer *dht.Peer, cli *CLIConfig) error {
	bootAddr, err := transport.ResolveAddr("udp", cli.bootstrap)
	if err != nil {
		return fmt.Errorf("resolving bootstrap address: %w", err)
	}
	bootKey := dht.DeriveKey(cli.bootName, int(cli.keysize))
	bootstrap := dht.NewContact(bootKey, cli.bootName, bootAddr)

	home, err := peer.Join(ctx, bootstrap)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"bootstrap": cli.bootstrap,
		"self_key":  home.Key.String(),
	}).Info("joined network")
	return nil
}

func storeValue(ctx context.Context, peer *dht.Peer, spec string) error {
	parts := strings.SplitN(spec, "=", 2)
	key, value := parts[0], parts[1]

	replicas, err := peer.StoreValue(ctx, key, []byte(value))
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"key":      key,
		"replicas": strconv.Itoa(replicas),
	}).Info("stored value")
	return nil
}

func locateValue(ctx context.Context, peer *dht.Peer, key string) error {
	value, err := peer.LocateValue(ctx, key)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"key":   key,
		"value": string(value),
	}).Info("located value")
	return nil
}
