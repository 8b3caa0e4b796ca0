package blockchain

import (
	"github.com/sirupsen/logrus"

	"github.com/rony4d/go-asset-bft/blockchain/processor"
	"github.com/rony4d/go-asset-bft/inter"
)

// ProcessBlocksJob processes one chunk of consecutive blocks.
type ProcessBlocksJob struct {
	svc    *Service
	blocks []*inter.Block
	log    logrus.FieldLogger
}

func (s *Service) newJob(blocks []*inter.Block) *ProcessBlocksJob {
	return &ProcessBlocksJob{svc: s, blocks: blocks, log: s.log.WithField("job", "processBlocks")}
}

// Blocks returns the blocks of the job, lowest first.
func (j *ProcessBlocksJob) Blocks() []*inter.Block {
	return j.blocks
}

// Handle processes the blocks until the first one that is not accepted, then
// commits the accepted ones in a single batch.
func (j *ProcessBlocksJob) Handle() {
	if len(j.blocks) == 0 {
		return
	}
	svc := j.svc
	last := svc.GetLastBlock()
	log := j.log.WithFields(logrus.Fields{
		"from":       j.blocks[0].Height,
		"to":         j.blocks[len(j.blocks)-1].Height,
		"lastHeight": last.Height,
	})
	log.Debug("Processing chunk of blocks")

	if !processor.IsBlockChained(svc.rules, last, j.blocks[0]) {
		log.WithFields(logrus.Fields{
			"previous": j.blocks[0].PreviousBlock.String(),
			"lastId":   last.ID().String(),
		}).Warn("Block not chained")
		// the rest of the queue can't be chained either
		svc.ClearQueue()
		svc.ResetLastDownloadedBlock()
		j.report(EventFailure)
		return
	}

	var (
		accepted      []*processor.Unit
		forkBlock     *inter.Block
		lastProcessed *processor.Unit
	)
loop:
	for _, b := range j.blocks {
		if svc.isFutureSlot(b) {
			log.WithField("height", b.Height).Error("Discarded block because it takes a future slot")
			break
		}

		unit := processor.NewUnit(b)
		svc.processor.Process(unit)
		lastProcessed = unit

		switch unit.Result {
		case processor.Accepted:
			accepted = append(accepted, unit)
			continue
		case processor.Corrupted:
			svc.Exit("state is corrupted")
			return
		case processor.Rollback:
			forkBlock = b
			svc.state.SetLastDownloadedBlock(b)
		}
		// the blocks after a refused one don't chain
		break loop
	}

	if len(accepted) != 0 {
		if err := svc.processor.CommitBatch(accepted); err != nil {
			log.WithError(err).WithField("count", len(accepted)).Error("Could not save blocks to database")
			j.revert(accepted)
			return
		}
	}

	switch {
	case lastProcessed != nil && (lastProcessed.Result == processor.Accepted || lastProcessed.Result == processor.DiscardedButCanBeBroadcasted):
		if svc.state.IsStarted() && svc.State() == StateProcessingBlock {
			svc.network.BroadcastBlock(lastProcessed.Block)
		}
		j.report(EventSuccess)
	case forkBlock != nil:
		svc.ForkBlock(forkBlock, 0)
	default:
		svc.ClearQueue()
		svc.ResetLastDownloadedBlock()
		j.report(EventFailure)
	}
}

// revert undoes units whose blocks could not be stored, newest first.
func (j *ProcessBlocksJob) revert(units []*processor.Unit) {
	svc := j.svc
	j.log.WithFields(logrus.Fields{
		"count":  len(units),
		"height": units[0].Block.Height - 1,
	}).Info("Reverting blocks back to last height")

	for i := len(units) - 1; i >= 0; i-- {
		if svc.processor.Revert(units[i].Block) == processor.Corrupted {
			svc.Exit("state is corrupted")
			return
		}
	}
	svc.ClearQueue()
	svc.ResetLastDownloadedBlock()
	j.report(EventFailure)
}

// report tells the machine how a pushed block went. Download chunks are
// followed through the queue draining instead.
func (j *ProcessBlocksJob) report(e Event) {
	if j.svc.State() == StateProcessingBlock {
		j.svc.Dispatch(e)
	}
}
