package domain

import "math/rand"

// NextTurn returns the index of the next alive player after CurrentTurn,
// scanning forward circularly. Returns 0 for an empty room and for the
// degenerate zero-alive case; the explicit alive guard means the scan can
// never loop forever.
func NextTurn(r *Room) int {
	return NextAliveFrom(r, r.CurrentTurn)
}

// NextAliveFrom returns the first alive player index strictly after start,
// scanning forward circularly. start may be -1 to begin at index 0.
func NextAliveFrom(r *Room, start int) int {
	n := len(r.Players)
	if n == 0 {
		return 0
	}
	if r.AlivePlayerCount() == 0 {
		return 0
	}

	idx := start
	for i := 0; i < n; i++ {
		idx = (idx + 1 + n) % n
		if r.Players[idx].AliveCount > 0 {
			return idx
		}
	}
	return 0
}

// RandomAliveIndex returns a uniformly random alive player index, or 0 when
// nobody is alive.
func RandomAliveIndex(r *Room, rng *rand.Rand) int {
	alive := make([]int, 0, len(r.Players))
	for i := range r.Players {
		if r.Players[i].AliveCount > 0 {
			alive = append(alive, i)
		}
	}
	if len(alive) == 0 {
		return 0
	}
	return alive[rng.Intn(len(alive))]
}

// KillTarget addresses one living slot of an opposing player.
type KillTarget struct {
	PlayerIndex int
	SlotNumber  int
}

// RandomKillTarget returns a uniformly random living slot belonging to an
// alive player other than the shooter, or nil when no target exists. Used
// by the auto-kill timeout path.
func RandomKillTarget(r *Room, shooterIndex int, rng *rand.Rand) *KillTarget {
	var options []KillTarget
	for i := range r.Players {
		if i == shooterIndex || r.Players[i].AliveCount == 0 {
			continue
		}
		for _, slot := range r.Players[i].Slots {
			if slot.State.Alive() {
				options = append(options, KillTarget{PlayerIndex: i, SlotNumber: slot.Number})
			}
		}
	}
	if len(options) == 0 {
		return nil
	}
	target := options[rng.Intn(len(options))]
	return &target
}
