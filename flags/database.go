package flags

import (
	"gopkg.in/urfave/cli.v1"
)

// DatabaseFlags bound the rollback of a database that fails its integrity check.
func DatabaseFlags() []cli.Flag {
	return []cli.Flag{
		cli.IntFlag{
			Name:  "db.rollback.maxrewind",
			Usage: "Maximum number of blocks removed to restore database integrity",
			Value: 10000,
		},
		cli.IntFlag{
			Name:  "db.rollback.steps",
			Usage: "Blocks removed between two integrity checks",
			Value: 1000,
		},
	}
}
