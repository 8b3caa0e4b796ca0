package launcher

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v1"

	"github.com/rony4d/go-asset-bft/flags"
	"github.com/rony4d/go-asset-bft/logger"
)

var app = flags.NewApp()

func init() {
	app.Action = run
}

// Launch parses args and runs the node until it is interrupted.
func Launch(args []string) error {
	return app.Run(args)
}

func run(ctx *cli.Context) error {
	cfg, err := MakeAllConfigs(ctx)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}

	node, err := NewNode(cfg, log)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"network": cfg.Network.Name,
		"fakenet": cfg.Network.FakeNet,
	}).Info("Starting node")

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	node.Start(runCtx)

	select {
	case <-runCtx.Done():
		log.Info("Got interrupt, shutting down")
		return node.Stop()
	case reason := <-node.Exited():
		_ = node.Stop()
		return errors.New(reason)
	}
}
