package classradio

import (
	"slices"
	"strings"
)

// QuestionType is the kind of question announced by QPARAMS.
type QuestionType string

const (
	// SingleChoice allows one letter.
	SingleChoice QuestionType = "unica"
	// MultipleChoice allows any subset of the letters.
	MultipleChoice QuestionType = "multiple"
)

// Alphabet is the ordered set of answer letters.
var Alphabet = []string{"A", "B", "C", "D", "E"}

// VoteSubState is the voting progress of a registered device.
type VoteSubState int

const (
	VoteIdle VoteSubState = iota
	VoteNavigating
	VoteConfirmed
)

func (s VoteSubState) String() string {
	switch s {
	case VoteIdle:
		return "idle"
	case VoteNavigating:
		return "navigating"
	case VoteConfirmed:
		return "confirmed"
	}
	return "unknown"
}

const (
	keyVoteType      = "tipo"
	keyVoteOptions   = "num_opciones"
	keyVoteSelection = "opcion"
	keyVoteConfirmed = "confirmada"
)

// VoteFields are the store fields a VoteState persists into.
func VoteFields() []Field {
	return []Field{
		{Key: keyVoteType, Default: string(SingleChoice)},
		{Key: keyVoteOptions, Default: 4},
		{Key: keyVoteSelection, Default: ""},
		{Key: keyVoteConfirmed, Default: false},
	}
}

// VoteState tracks the letters a student selected for the current question.
//
// In SingleChoice mode button A moves to the next letter and B to the previous one,
// the letter under the cursor being the selection. In MultipleChoice mode A moves
// the cursor and B toggles the letter under it. Once confirmed, navigation is
// ignored until the next Reset.
type VoteState struct {
	Type       QuestionType
	NumOptions int

	cursor    int
	selected  map[string]bool
	confirmed bool
}

// NewVoteState returns a state for a question of kind qt with n options.
func NewVoteState(qt QuestionType, n int) *VoteState {
	v := &VoteState{}
	v.Reset(qt, n)
	return v
}

// Reset clears the selection and confirmation for a new question.
func (v *VoteState) Reset(qt QuestionType, n int) {
	if qt != MultipleChoice {
		qt = SingleChoice
	}
	v.Type = qt
	v.NumOptions = min(max(n, 1), len(Alphabet))
	v.cursor = -1
	v.selected = map[string]bool{}
	v.confirmed = false
}

func (v *VoteState) letters() []string {
	return Alphabet[:v.NumOptions]
}

// Next handles button A.
func (v *VoteState) Next() {
	if v.confirmed {
		return
	}
	v.cursor = (v.cursor + 1) % v.NumOptions
	if v.Type == SingleChoice {
		v.selectOnly(v.cursor)
	}
}

// Prev moves the cursor backwards. From no selection it lands on the last letter.
func (v *VoteState) Prev() {
	if v.confirmed {
		return
	}
	if v.cursor < 0 {
		v.cursor = v.NumOptions - 1
	} else {
		v.cursor = (v.cursor - 1 + v.NumOptions) % v.NumOptions
	}
	if v.Type == SingleChoice {
		v.selectOnly(v.cursor)
	}
}

// Toggle flips the letter under the cursor in MultipleChoice mode.
// With no cursor yet, the cursor is placed on the first letter.
func (v *VoteState) Toggle() {
	if v.confirmed {
		return
	}
	if v.cursor < 0 {
		v.cursor = 0
	}
	letter := v.letters()[v.cursor]
	v.selected[letter] = !v.selected[letter]
	if !v.selected[letter] {
		delete(v.selected, letter)
	}
}

// ButtonB handles button B according to the question type.
func (v *VoteState) ButtonB() {
	if v.Type == MultipleChoice {
		v.Toggle()
	} else {
		v.Prev()
	}
}

func (v *VoteState) selectOnly(i int) {
	v.selected = map[string]bool{v.letters()[i]: true}
}

// Confirm locks the selection. It returns false when nothing is selected.
func (v *VoteState) Confirm() bool {
	if v.confirmed {
		return true
	}
	if len(v.selected) == 0 {
		return false
	}
	v.confirmed = true
	return true
}

// Selection returns the selected letters in alphabet order.
func (v *VoteState) Selection() []string {
	var out []string
	for _, l := range v.letters() {
		if v.selected[l] {
			out = append(out, l)
		}
	}
	return out
}

// Answer is the selection as carried by ANSWER: letters joined by commas, "" when empty.
func (v *VoteState) Answer() string {
	return strings.Join(v.Selection(), ",")
}

// Cursor returns the letter under the cursor, or "" before any navigation.
func (v *VoteState) Cursor() string {
	if v.cursor < 0 {
		return ""
	}
	return v.letters()[v.cursor]
}

func (v *VoteState) Confirmed() bool {
	return v.confirmed
}

func (v *VoteState) SubState() VoteSubState {
	switch {
	case v.confirmed:
		return VoteConfirmed
	case v.cursor < 0 && len(v.selected) == 0:
		return VoteIdle
	default:
		return VoteNavigating
	}
}

// Save writes the state into s.
func (v *VoteState) Save(s *Store) bool {
	_ = s.Set(keyVoteType, string(v.Type))
	_ = s.Set(keyVoteOptions, v.NumOptions)
	_ = s.Set(keyVoteSelection, v.Answer())
	_ = s.Set(keyVoteConfirmed, v.confirmed)
	return s.Save()
}

// Load restores the state from s. Letters outside the option range are dropped.
func (v *VoteState) Load(s *Store) {
	v.Reset(QuestionType(s.GetString(keyVoteType)), s.GetInt(keyVoteOptions))
	for _, l := range strings.Split(s.GetString(keyVoteSelection), ",") {
		if i := slices.Index(v.letters(), l); i >= 0 {
			v.selected[l] = true
			v.cursor = i
		}
	}
	v.confirmed = s.GetBool(keyVoteConfirmed) && len(v.selected) > 0
}
