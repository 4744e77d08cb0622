package session

import "time"

//choker runs the per-tick bandwidth allocation: it swaps at most one
//unchoked peer for at most one choked-and-interested peer, rewarding
//throughput while a grace period keeps freshly unchoked peers from being
//cut off on measurement noise.
type choker struct {
	s *Session
	//minimum time a peer stays unchoked before it may be choked again
	gracePeriod time.Duration
}

func newChoker(s *Session, gracePeriod time.Duration) *choker {
	return &choker{s: s, gracePeriod: gracePeriod}
}

func (c *choker) cycle(now time.Time) {
	st := c.s.state
	//flush every meter: scores must reflect the window since the last
	//tick, not a lifetime average, or an idle peer coasts forever on one
	//old burst
	st.rateUp.flush(now)
	st.rateDown.flush(now)
	for _, ci := range st.conns {
		ci.down.flush(now)
		ci.up.flush(now)
	}
	if st.canUnchoke() > 0 {
		//there is room under the limit, let natural arrivals fill it
		return
	}
	//TODO: factor in snub status so untried peers aren't punished for
	//having no rate yet.
	victim := c.pickChoke(now)
	promoted := c.pickUnchoke()
	if victim == nil || promoted == nil {
		//never act one-sided, the swap must preserve the limit
		return
	}
	victim.choke(true)
	promoted.choke(false)
}

//pickChoke returns the unchoked conn past the grace period with the lowest
//weighted rate score. First minimal element wins on ties.
func (c *choker) pickChoke(now time.Time) *connInfo {
	var victim *connInfo
	var worst float64
	for _, ci := range c.s.state.conns {
		if ci.choked {
			continue
		}
		if now.Sub(ci.lastChokeChange) <= c.gracePeriod {
			continue
		}
		score := ci.chokeScore()
		if victim == nil || score < worst {
			victim = ci
			worst = score
		}
	}
	return victim
}

//pickUnchoke returns the choked conn that is interested and delivered the
//best rate over the last window. No grace period: promoting a productive
//peer should be prompt. First maximal element wins on ties.
func (c *choker) pickUnchoke() *connInfo {
	var promoted *connInfo
	var best float64
	for _, ci := range c.s.state.conns {
		if !ci.choked || !ci.interested {
			continue
		}
		rate := ci.down.lastRate
		if promoted == nil || rate > best {
			promoted = ci
			best = rate
		}
	}
	return promoted
}
