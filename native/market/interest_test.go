package market

import "testing"

func TestSimpleInterest(t *testing.T) {
	cases := []struct {
		name      string
		principal uint64
		rate      uint16
		periods   uint64
		want      uint64
	}{
		{name: "zero periods", principal: 1_000, rate: 500, periods: 0, want: 0},
		{name: "zero rate", principal: 1_000, rate: 0, periods: 10, want: 0},
		{name: "exact", principal: 400_000, rate: 500, periods: 3, want: 60_000},
		{name: "rounds half up", principal: 1, rate: 5_000, periods: 1, want: 1},
		{name: "rounds down below half", principal: 1, rate: 4_999, periods: 1, want: 0},
		{name: "full rate", principal: 250, rate: 10_000, periods: 2, want: 500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := SimpleInterest(tc.principal, tc.rate, tc.periods)
			if !ok {
				t.Fatalf("unexpected overflow")
			}
			if got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestSimpleInterestOverflow(t *testing.T) {
	if _, ok := SimpleInterest(MaxAmount, 10_000, 2); ok {
		t.Fatalf("expected overflow for doubled max amount")
	}
	if _, _, ok := AmountDue(MaxAmount, 1, 10_000); ok {
		t.Fatalf("expected amount due overflow")
	}
	due, interest, ok := AmountDue(MaxAmount/2, 10_000, 1)
	if !ok || interest != MaxAmount/2 || due != MaxAmount-1 {
		t.Fatalf("unexpected due %d interest %d ok %v", due, interest, ok)
	}
}

func TestAddAmounts(t *testing.T) {
	if _, ok := addAmounts(MaxAmount, 1); ok {
		t.Fatalf("expected overflow")
	}
	if sum, ok := addAmounts(MaxAmount-1, 1); !ok || sum != MaxAmount {
		t.Fatalf("unexpected sum %d", sum)
	}
}
