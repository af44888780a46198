package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yuriy-kovalchuk/yk-dns-provisioner/internal/config"
	"github.com/yuriy-kovalchuk/yk-dns-provisioner/internal/dns"
	_ "github.com/yuriy-kovalchuk/yk-dns-provisioner/internal/dns/providers"
	"github.com/yuriy-kovalchuk/yk-dns-provisioner/internal/provision"
)

var Version = "dev"

func main() {
	state := config.DefaultState()
	flag.StringVar(&state.ZoneName, "zone-name", state.ZoneName,
		"name of the zone to provision")
	flag.StringVar(&state.Inside.SubnetName, "inside-subnet-name", state.Inside.SubnetName,
		"name of the inside client subnet and zone scope")
	flag.StringVar(&state.Inside.CIDR, "inside-subnet-cidr", state.Inside.CIDR,
		"IPv4 CIDR of the inside client subnet")
	flag.StringVar(&state.Outside.SubnetName, "outside-subnet-name", state.Outside.SubnetName,
		"name of the outside client subnet and zone scope")
	flag.StringVar(&state.Outside.CIDR, "outside-subnet-cidr", state.Outside.CIDR,
		"IPv4 CIDR of the outside client subnet")
	dev := flag.Bool("dev", false, "enable development logging")
	flag.Parse()

	// Scope names follow the subnet names.
	state.Inside.ScopeName = state.Inside.SubnetName
	state.Outside.ScopeName = state.Outside.SubnetName

	if err := run(state, *dev); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(state config.DesiredState, dev bool) error {
	zl, err := buildLogger(dev)
	if err != nil {
		return fmt.Errorf("unable to build logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	log := zapr.NewLogger(zl)

	setup := log.WithName("setup")
	setup.Info("starting yk-dns-provisioner", "version", Version, "zone", state.ZoneName)

	if err := state.Validate(); err != nil {
		return err
	}

	providerCfg, err := config.LoadProviderConfig()
	if err != nil {
		return fmt.Errorf("unable to load provider config: %w", err)
	}
	setup.Info("loaded provider config", "provider", providerCfg.Provider)

	server, err := dns.NewServer(providerCfg.Provider, log.WithName("dns-"+providerCfg.Provider), providerCfg.Settings)
	if err != nil {
		return fmt.Errorf("unable to create DNS server client: %w", err)
	}

	reconciler := &provision.Reconciler{
		Server: server,
		Log:    log.WithName("provision"),
	}

	results, err := reconciler.Run(context.Background(), state)
	if err != nil {
		return err
	}

	created := 0
	for _, res := range results {
		if res.Created {
			created++
		}
	}
	setup.Info("provisioning complete", "steps", len(results), "created", created)
	return nil
}

// buildLogger configures a zap logger writing ISO-8601-timestamped progress
// lines to standard output.
func buildLogger(dev bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stdout"}
	return cfg.Build()
}
