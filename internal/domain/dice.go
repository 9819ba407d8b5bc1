package domain

import (
	"fmt"
	"math/rand"
	"strconv"
)

// Face is a single dice outcome: the slot numbers 1..5 or the joker.
type Face int

// FaceJoker always forfeits the turn with no upgrade.
const FaceJoker Face = 0

// IsJoker reports whether the face is the joker outcome.
func (f Face) IsJoker() bool { return f == FaceJoker }

// String renders the face the way clients see it.
func (f Face) String() string {
	if f.IsJoker() {
		return "joker"
	}
	return strconv.Itoa(int(f))
}

// MarshalJSON emits slot numbers as JSON numbers and the joker as the
// string "joker", matching the broadcast wire format.
func (f Face) MarshalJSON() ([]byte, error) {
	if f.IsJoker() {
		return []byte(`"joker"`), nil
	}
	return []byte(strconv.Itoa(int(f))), nil
}

// DiceTable is a weighted distribution over the six faces. The default
// table weights all outcomes equally; weights are configurable but every
// face must carry positive weight.
type DiceTable struct {
	faces   []Face
	weights []int
	total   int
}

// DefaultDiceTable returns the uniform six-face table.
func DefaultDiceTable() DiceTable {
	t, _ := NewDiceTable(map[string]int{"1": 1, "2": 1, "3": 1, "4": 1, "5": 1, "joker": 1})
	return t
}

// NewDiceTable builds a table from face-name weights ("1".."5", "joker").
// Missing faces default to weight 1; zero or negative weights are rejected.
func NewDiceTable(weights map[string]int) (DiceTable, error) {
	names := []string{"1", "2", "3", "4", "5", "joker"}
	known := make(map[string]bool, len(names))
	for _, name := range names {
		known[name] = true
	}
	for name := range weights {
		if !known[name] {
			return DiceTable{}, fmt.Errorf("unknown dice face %q", name)
		}
	}

	t := DiceTable{
		faces:   make([]Face, 0, len(names)),
		weights: make([]int, 0, len(names)),
	}
	for _, name := range names {
		w, ok := weights[name]
		if !ok {
			w = 1
		}
		if w <= 0 {
			return DiceTable{}, fmt.Errorf("dice weight for %q must be positive, got %d", name, w)
		}
		face := FaceJoker
		if name != "joker" {
			n, _ := strconv.Atoi(name)
			face = Face(n)
		}
		t.faces = append(t.faces, face)
		t.weights = append(t.weights, w)
		t.total += w
	}
	return t, nil
}

// Roll draws one face from the table. Callers draw at most once per roll
// request and record the face in the broadcast before mutating further.
func (t DiceTable) Roll(rng *rand.Rand) Face {
	if t.total == 0 {
		t = DefaultDiceTable()
	}
	r := rng.Intn(t.total)
	for i, w := range t.weights {
		if r < w {
			return t.faces[i]
		}
		r -= w
	}
	return t.faces[len(t.faces)-1]
}
