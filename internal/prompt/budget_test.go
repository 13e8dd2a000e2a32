package prompt

import (
	"strings"
	"testing"
)

func makeList(n int) []any {
	out := make([]any, n)
	for i := 0; i < n; i++ {
		out[i] = map[string]any{"seq": i, "note": "signal entry with several words of detail"}
	}
	return out
}

func TestTrimUnderBudgetUnmodified(t *testing.T) {
	b := NewBudgeter(10000, []string{"events"})
	payload := map[string]any{"events": makeList(3), "user": "u1"}

	out, rendered, trimmed := b.Trim(payload, "You are a risk analyst.")
	if trimmed {
		t.Error("under-budget payload must not be trimmed")
	}
	if len(asList(out["events"])) != 3 {
		t.Errorf("payload modified: %d events", len(asList(out["events"])))
	}
	if !strings.HasPrefix(rendered, "You are a risk analyst.") {
		t.Error("rendered prompt missing system prompt")
	}
}

func TestTrimRecencyPreservation(t *testing.T) {
	// After one halving the retained elements must be exactly the latter
	// floor(n/2) of the original ordered list.
	cases := []struct {
		length int
		keep   int
	}{
		{2, 1},
		{3, 1},
		{11, 5},
	}

	for _, tc := range cases {
		b := NewBudgeter(1, []string{"events"})
		payload := map[string]any{"events": makeList(tc.length)}

		out, _, trimmed := b.Trim(payload, "sys")
		if !trimmed {
			t.Fatalf("length %d: expected trimming with 1-token budget", tc.length)
		}

		// With an unmeetable budget the list is halved down to a single
		// element; it must be the most recent one from the original order.
		final := asList(out["events"])
		if len(final) != 1 {
			t.Fatalf("length %d: expected fully halved list, got %d", tc.length, len(final))
		}
		last := final[0].(map[string]any)
		if last["seq"] != tc.length-1 {
			t.Errorf("length %d: retained element seq=%v, want %d (most recent)", tc.length, last["seq"], tc.length-1)
		}
	}
}

func TestTrimSingleHalvingKeepsLatterHalf(t *testing.T) {
	payload := map[string]any{"events": makeList(11)}
	base := EstimateTokens(Render("sys", map[string]any{"events": makeList(5)}))

	// Budget sits between the 5-element and 11-element renderings, so
	// exactly one halving (11 -> 5) suffices.
	b := NewBudgeter(base+2, []string{"events"})
	out, _, trimmed := b.Trim(payload, "sys")
	if !trimmed {
		t.Fatal("expected trimming")
	}
	kept := asList(out["events"])
	if len(kept) != 5 {
		t.Fatalf("expected 5 retained elements, got %d", len(kept))
	}
	for i, v := range kept {
		seq := v.(map[string]any)["seq"]
		if seq != 6+i {
			t.Errorf("retained[%d].seq = %v, want %d", i, seq, 6+i)
		}
	}
}

func TestTrimTerminatesWhenBudgetUnmeetable(t *testing.T) {
	b := NewBudgeter(1, []string{"events", "logins"})
	payload := map[string]any{
		"events": makeList(8),
		"logins": makeList(4),
		"user":   strings.Repeat("long scalar value ", 50),
	}

	out, rendered, trimmed := b.Trim(payload, "sys")
	if !trimmed {
		t.Error("oversized payload must report trimmed=true")
	}
	if rendered == "" {
		t.Error("rendered prompt must never be empty")
	}
	// Both lists halved to single elements; the scalar is untouched.
	if len(asList(out["events"])) != 1 || len(asList(out["logins"])) != 1 {
		t.Errorf("lists not fully halved: events=%d logins=%d",
			len(asList(out["events"])), len(asList(out["logins"])))
	}
	if out["user"] != payload["user"] {
		t.Error("scalar fields must not be modified")
	}
}

func TestTrimPriorityOrder(t *testing.T) {
	// "history" is first in priority and must be halved before "recent".
	payload := map[string]any{
		"history": makeList(10),
		"recent":  makeList(10),
	}
	full := EstimateTokens(Render("sys", payload))
	afterOne := EstimateTokens(Render("sys", map[string]any{
		"history": makeList(5),
		"recent":  makeList(10),
	}))
	if afterOne >= full {
		t.Fatal("test fixture broken: halving must reduce tokens")
	}

	b := NewBudgeter(afterOne+1, []string{"history", "recent"})
	out, _, trimmed := b.Trim(payload, "sys")
	if !trimmed {
		t.Fatal("expected trimming")
	}
	if len(asList(out["history"])) != 5 {
		t.Errorf("history should be halved first, got %d", len(asList(out["history"])))
	}
	if len(asList(out["recent"])) != 10 {
		t.Errorf("recent should be untouched, got %d", len(asList(out["recent"])))
	}
}

func TestTrimDoesNotMutateInput(t *testing.T) {
	payload := map[string]any{"events": makeList(8)}
	b := NewBudgeter(1, []string{"events"})
	_, _, _ = b.Trim(payload, "sys")
	if len(asList(payload["events"])) != 8 {
		t.Errorf("input payload mutated: %d events", len(asList(payload["events"])))
	}
}

func TestEstimateTokens(t *testing.T) {
	if EstimateTokens("") != 0 {
		t.Error("empty string should be 0 tokens")
	}
	if got := EstimateTokens("one two three"); got != 4 {
		t.Errorf("3 words should estimate 4 tokens, got %d", got)
	}
}
