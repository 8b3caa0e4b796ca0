package flags

import (
	"gopkg.in/urfave/cli.v1"
)

// NodeFlags holds knobs specific to the local node instance (identity, network, caches).

func NodeFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "identity",
			Usage: "Custom node name used in logs",
		},
		cli.StringFlag{
			Name:  "network",
			Usage: "Network to join (main|test|fake)",
			Value: "fake",
		},
		cli.StringFlag{
			Name:  "fakenet",
			Usage: "Run validator i of a fake network of N validators ('i/N')",
			Value: "1/1",
		},
		cli.BoolFlag{
			Name:  "networkstart",
			Usage: "Start a new network instead of syncing an existing one",
		},
		cli.IntFlag{
			Name:  "cache.recentblocks",
			Usage: "Number of recent blocks kept in memory",
			Value: 100,
		},
		cli.IntFlag{
			Name:  "txpool.size",
			Usage: "Maximum number of pending transactions",
			Value: 4096,
		},
	}
}
