package classradio

import "sync"

// Tally counts the votes of a group for its leader.
// Each voter holds one vote; voting again replaces the previous choice.
type Tally struct {
	mu     sync.Mutex
	order  []string
	counts map[string]int
	votes  map[string]string
}

func NewTally() *Tally {
	return &Tally{
		counts: map[string]int{},
		votes:  map[string]string{},
	}
}

// Cast records choice for voter. An empty choice withdraws the vote.
func (t *Tally) Cast(voter, choice string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.votes[voter]; ok {
		t.counts[prev]--
		delete(t.votes, voter)
	}
	if choice == "" {
		return
	}
	if _, seen := t.counts[choice]; !seen {
		t.order = append(t.order, choice)
	}
	t.counts[choice]++
	t.votes[voter] = choice
}

// Majority returns the most voted choice and its count.
// On a tie the choice that appeared first wins. It returns "" with no votes.
func (t *Tally) Majority() (string, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	best, bestCount := "", 0
	for _, choice := range t.order {
		if n := t.counts[choice]; n > bestCount {
			best, bestCount = choice, n
		}
	}
	return best, bestCount
}

// Voters returns the number of voters holding a vote.
func (t *Tally) Voters() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.votes)
}

func (t *Tally) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = nil
	t.counts = map[string]int{}
	t.votes = map[string]string{}
}
