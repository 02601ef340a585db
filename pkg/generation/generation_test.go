package generation

import (
	"sync"
	"testing"
)

func TestCounter(t *testing.T) {
	t.Run("zero value starts at zero", func(t *testing.T) {
		var c Counter
		if c.Current() != 0 {
			t.Errorf("Current() = %v, want 0", c.Current())
		}
	})

	t.Run("advance invalidates captured token", func(t *testing.T) {
		var c Counter
		captured := c.Current()
		next := c.Advance(ReasonInterruption)

		if next <= captured {
			t.Errorf("Advance() = %v, want > %v", next, captured)
		}
		if c.IsCurrent(captured) {
			t.Error("captured token should be stale after advance")
		}
		if !c.IsStale(captured) {
			t.Error("IsStale() = false, want true")
		}
		if !c.IsCurrent(next) {
			t.Error("new token should be current")
		}
	})

	t.Run("OnAdvance receives reason", func(t *testing.T) {
		var got []Reason
		c := Counter{OnAdvance: func(_ Token, r Reason) { got = append(got, r) }}
		c.Advance(ReasonNewTurn)
		c.Advance(ReasonReset)
		if len(got) != 2 || got[0] != ReasonNewTurn || got[1] != ReasonReset {
			t.Errorf("reasons = %v", got)
		}
	})

	t.Run("String", func(t *testing.T) {
		if Token(7).String() != "gen-7" {
			t.Errorf("String() = %q", Token(7).String())
		}
	})
}

func TestCounterMonotonicUnderConcurrency(t *testing.T) {
	var c Counter
	var wg sync.WaitGroup
	seen := make([][]Token, 8)

	for i := range seen {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			last := Token(0)
			for j := 0; j < 500; j++ {
				observed := c.Current()
				if observed < last {
					t.Errorf("token went backwards: %v after %v", observed, last)
					return
				}
				last = observed
				seen[i] = append(seen[i], c.Advance(ReasonNewTurn))
			}
		}(i)
	}
	wg.Wait()

	if c.Current() != Token(8*500) {
		t.Errorf("Current() = %v, want %d", c.Current(), 8*500)
	}

	unique := make(map[Token]bool)
	for _, tokens := range seen {
		for _, tok := range tokens {
			if unique[tok] {
				t.Fatalf("token %v handed out twice", tok)
			}
			unique[tok] = true
		}
	}
}
