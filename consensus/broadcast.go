package consensus

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-asset-bft/inter"
)

// Broadcaster relays admitted proposals to peers.
type Broadcaster interface {
	BroadcastProposal(*inter.Proposal) error
}

const broadcastQueue = 64

// asyncBroadcaster sends proposals from its own goroutine. Failures end up
// in an error sink that is only ever logged.
type asyncBroadcaster struct {
	out   Broadcaster
	queue chan *inter.Proposal
	errs  chan error
	log   logrus.FieldLogger
}

func newAsyncBroadcaster(out Broadcaster, log logrus.FieldLogger) *asyncBroadcaster {
	return &asyncBroadcaster{
		out:   out,
		queue: make(chan *inter.Proposal, broadcastQueue),
		errs:  make(chan error, broadcastQueue),
		log:   log,
	}
}

// enqueue never blocks. A full queue drops the proposal.
func (b *asyncBroadcaster) enqueue(p *inter.Proposal) {
	select {
	case b.queue <- p:
	default:
		b.fail(errors.Errorf("broadcast queue full, dropped proposal %d/%d", p.Height, p.Round))
	}
}

func (b *asyncBroadcaster) fail(err error) {
	select {
	case b.errs <- err:
	default:
	}
}

// run sends queued proposals and drains the error sink until ctx is done.
func (b *asyncBroadcaster) run(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-b.errs:
				b.log.WithError(err).Warn("Proposal broadcast failed")
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-b.queue:
			if err := b.out.BroadcastProposal(p); err != nil {
				b.fail(errors.Wrapf(err, "proposal %d/%d", p.Height, p.Round))
			}
		}
	}
}
