package domain

// SlotState is the upgrade tier of a single slot. The zero value is an
// untouched slot; -1 is the dead sentinel. It serializes as the bare
// integer for client compatibility.
type SlotState int

const (
	// SlotDead marks a slot destroyed by a kill. Dead slots never revive
	// within a game.
	SlotDead SlotState = -1
	// SlotUntouched is a fresh slot with no upgrades.
	SlotUntouched SlotState = 0
	// SlotHead is the first upgrade tier.
	SlotHead SlotState = 1
	// SlotBody is the second upgrade tier.
	SlotBody SlotState = 2
	// SlotGun is the third upgrade tier. A spent bullet reverts here.
	SlotGun SlotState = 3
	// SlotLoaded holds a usable bullet. The only state granting a kill.
	SlotLoaded SlotState = 4
)

// Dead reports whether the slot state is the dead sentinel.
func (s SlotState) Dead() bool { return s == SlotDead }

// Alive reports whether the slot still counts toward aliveCount.
func (s SlotState) Alive() bool { return s != SlotDead }

// Loaded reports whether the slot holds a bullet.
func (s SlotState) Loaded() bool { return s == SlotLoaded }

// SlotsPerPlayer is the fixed number of upgrade tracks each player owns.
const SlotsPerPlayer = 5

// Slot is one of five numbered upgrade tracks owned by a player.
// Number is immutable and unique within the owning player's slots.
type Slot struct {
	Number int       `json:"number"`
	State  SlotState `json:"state"`
}

// Upgrade advances the slot one tier. Dead and loaded slots are left alone.
func (s *Slot) Upgrade() {
	if s.State.Dead() || s.State >= SlotLoaded {
		return
	}
	s.State++
}

// DefaultSlots returns five untouched slots numbered 1..5.
func DefaultSlots() []Slot {
	slots := make([]Slot, 0, SlotsPerPlayer)
	for n := 1; n <= SlotsPerPlayer; n++ {
		slots = append(slots, Slot{Number: n, State: SlotUntouched})
	}
	return slots
}
