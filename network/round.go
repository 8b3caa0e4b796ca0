package network

import (
	"fmt"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/pkg/errors"
)

// ErrInvalidMilestone is returned when a change of the validator count does
// not start a new round.
var ErrInvalidMilestone = errors.New("validator count changes inside a round")

// RoundInfo locates a height within the round schedule. Rounds are counted
// from 1; the genesis height belongs to round 0.
type RoundInfo struct {
	Round         uint64
	RoundHeight   idx.Block // first height of Round
	NextRound     uint64    // round of the following height
	MaxValidators int
}

// CalculateRound returns the round containing height.
func (r Rules) CalculateRound(height idx.Block) (RoundInfo, error) {
	active := r.ActiveValidators(1)
	if height == 0 {
		return RoundInfo{NextRound: 1, MaxValidators: r.ActiveValidators(0)}, nil
	}
	if active == 0 {
		return RoundInfo{}, errors.Wrap(ErrInvalidMilestone, "no active validators")
	}

	res := RoundInfo{Round: 1, RoundHeight: 1}
	start := idx.Block(1)
	for _, m := range r.Milestones {
		if m.Height <= start || m.Height > height || int(m.ActiveValidators) == active {
			continue
		}
		span := uint64(m.Height - start)
		if span%uint64(active) != 0 {
			return RoundInfo{}, errors.Wrap(ErrInvalidMilestone, fmt.Sprintf("height %d", m.Height))
		}
		if m.ActiveValidators == 0 {
			return RoundInfo{}, errors.Wrap(ErrInvalidMilestone, fmt.Sprintf("no active validators at %d", m.Height))
		}
		res.Round += span / uint64(active)
		res.RoundHeight = m.Height
		active = int(m.ActiveValidators)
		start = m.Height
	}

	fromStart := uint64(height - start)
	increase := fromStart / uint64(active)
	res.Round += increase
	res.RoundHeight += idx.Block(increase * uint64(active))
	res.NextRound = res.Round
	if (fromStart+1)%uint64(active) == 0 {
		res.NextRound++
	}
	res.MaxValidators = active
	return res, nil
}

// IsNewRound reports whether height is the first height of a round.
// A misconfigured schedule reports false.
func (r Rules) IsNewRound(height idx.Block) bool {
	info, err := r.CalculateRound(height)
	return err == nil && info.RoundHeight == height
}
