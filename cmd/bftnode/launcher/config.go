// This file maps the CLI context to the config struct.

package launcher

import (
	"fmt"

	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"github.com/rony4d/go-asset-bft/blockchain"
	"github.com/rony4d/go-asset-bft/consensus"
	"github.com/rony4d/go-asset-bft/integration"
	"github.com/rony4d/go-asset-bft/logger"
)

// Config aggregates every subsystem's configuration the launcher needs.
type Config struct {
	Node       NodeConfig
	Network    NetworkConfig
	Logging    logger.Config
	Consensus  consensus.ProposalProcessorConfig
	Blockchain blockchain.Config
	Cache      CacheConfig
	TxPool     TxPoolConfig
}

type NodeConfig struct {
	Name string
}

type NetworkConfig struct {
	Name    string
	FakeNet string // i/N
}

type CacheConfig struct {
	RecentBlocks int
}

type TxPoolConfig struct {
	Size int
}

var ErrUnsupportedNetwork = errors.New("no genesis for network")

// MakeAllConfigs merges the defaults with the CLI flag overrides.
func MakeAllConfigs(ctx *cli.Context) (Config, error) {
	cfg := DefaultConfig()
	applyCLIOverrides(ctx, &cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyCLIOverrides(ctx *cli.Context, cfg *Config) {
	if ctx.IsSet("identity") {
		cfg.Node.Name = ctx.String("identity")
	}

	if ctx.IsSet("network") {
		cfg.Network.Name = ctx.String("network")
	}
	if ctx.IsSet("fakenet") {
		cfg.Network.FakeNet = ctx.String("fakenet")
	}
	if ctx.IsSet("networkstart") {
		cfg.Blockchain.NetworkStart = ctx.Bool("networkstart")
	}

	if ctx.IsSet("log.format") {
		cfg.Logging.Format = ctx.String("log.format")
	}
	if ctx.IsSet("log.verbosity") {
		cfg.Logging.Verbosity = ctx.Int("log.verbosity")
	}
	if ctx.IsSet("log.color") {
		cfg.Logging.Color = ctx.Bool("log.color")
	}
	if ctx.IsSet("sentry.dsn") {
		cfg.Logging.SentryDSN = ctx.String("sentry.dsn")
	}

	if ctx.IsSet("consensus.maxroundahead") {
		cfg.Consensus.MaxRoundAhead = uint32(ctx.Uint("consensus.maxroundahead"))
	}
	if ctx.IsSet("blockchain.wakeup") {
		cfg.Blockchain.WakeUpTimeout = ctx.Duration("blockchain.wakeup")
	}
	if ctx.IsSet("db.rollback.maxrewind") {
		cfg.Blockchain.Rollback.MaxBlockRewind = ctx.Int("db.rollback.maxrewind")
	}
	if ctx.IsSet("db.rollback.steps") {
		cfg.Blockchain.Rollback.Steps = ctx.Int("db.rollback.steps")
	}

	if ctx.IsSet("cache.recentblocks") {
		cfg.Cache.RecentBlocks = ctx.Int("cache.recentblocks")
	}
	if ctx.IsSet("txpool.size") {
		cfg.TxPool.Size = ctx.Int("txpool.size")
	}
}

// Validate rejects configurations the node can't run with.
func (c Config) Validate() error {
	switch c.Network.Name {
	case NetworkFake:
		if _, _, err := integration.ParseFakeNet(c.Network.FakeNet); err != nil {
			return errors.Wrap(err, "fakenet")
		}
	case NetworkMain, NetworkTest:
		return errors.Wrap(ErrUnsupportedNetwork, c.Network.Name)
	default:
		return fmt.Errorf("unknown network %q", c.Network.Name)
	}
	if c.Blockchain.Rollback.Steps <= 0 || c.Blockchain.Rollback.MaxBlockRewind < 0 {
		return fmt.Errorf("invalid database rollback %d/%d", c.Blockchain.Rollback.MaxBlockRewind, c.Blockchain.Rollback.Steps)
	}
	if c.Cache.RecentBlocks <= 0 {
		return fmt.Errorf("invalid recent blocks cache size %d", c.Cache.RecentBlocks)
	}
	return nil
}
