package domain

// Player holds the room-scoped state for a participant. SessionID is the
// transient connection identity and is rebound on reconnect; it is never an
// ownership relation.
type Player struct {
	SessionID  string `json:"sessionId"`
	UserID     string `json:"userId"`
	Name       string `json:"name"`
	AliveCount int    `json:"aliveCount"`
	Slots      []Slot `json:"slots"`
}

// NewPlayer returns a player with a fresh set of slots.
func NewPlayer(sessionID, userID, name string) Player {
	return Player{
		SessionID:  sessionID,
		UserID:     userID,
		Name:       name,
		AliveCount: SlotsPerPlayer,
		Slots:      DefaultSlots(),
	}
}

// ResetForNewGame restores fresh slots and a full alive count.
func (p *Player) ResetForNewGame() {
	p.Slots = DefaultSlots()
	p.AliveCount = SlotsPerPlayer
}

// Eliminated reports whether every slot of the player is dead. Eliminated
// players stay in the room for lobby display until the room resets.
func (p *Player) Eliminated() bool { return p.AliveCount == 0 }

// BulletSlot returns the player's loaded slot, or nil when none exists.
// At most one slot can be loaded at a time.
func (p *Player) BulletSlot() *Slot {
	for i := range p.Slots {
		if p.Slots[i].State.Loaded() {
			return &p.Slots[i]
		}
	}
	return nil
}

// HasBullet reports whether the player holds a loaded slot.
func (p *Player) HasBullet() bool { return p.BulletSlot() != nil }

// SlotByNumber returns the slot with the given number, or nil.
func (p *Player) SlotByNumber(number int) *Slot {
	for i := range p.Slots {
		if p.Slots[i].Number == number {
			return &p.Slots[i]
		}
	}
	return nil
}
