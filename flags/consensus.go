package flags

import (
	"time"

	"gopkg.in/urfave/cli.v1"
)

// ConsensusFlags tune proposal admission and the sync loop.
func ConsensusFlags() []cli.Flag {
	return []cli.Flag{
		cli.UintFlag{
			Name:  "consensus.maxroundahead",
			Usage: "Rounds ahead of the local round a proposal may be",
			Value: 100,
		},
		cli.DurationFlag{
			Name:  "blockchain.wakeup",
			Usage: "Time an idle node waits before syncing again",
			Value: 60 * time.Second,
		},
	}
}
