package dashclient

import (
	"fmt"
	"testing"
)

func ev(fp string) LogEvent {
	return LogEvent{RequestFingerprint: fp, Step: "risk", Status: "success"}
}

func TestPushDedupsAndCaps(t *testing.T) {
	t.Parallel()

	c := New(Options{URL: "ws://unused", BufferSize: 3})
	c.push(ev("a"))
	c.push(ev("b"))
	c.push(ev("a")) // moves to front, no duplicate
	c.push(ev("c"))
	c.push(ev("d")) // evicts the oldest

	got := c.Recent()
	if len(got) != 3 {
		t.Fatalf("buffer size %d, want 3", len(got))
	}
	if got[0].RequestFingerprint != "d" || got[1].RequestFingerprint != "c" || got[2].RequestFingerprint != "a" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestMergePolledDedupLaw(t *testing.T) {
	t.Parallel()

	polled := []LogEvent{ev("x"), ev("y"), ev("z")}
	pushed := []LogEvent{ev("w"), ev("y"), ev("x")}

	merged := MergePolled(polled, pushed)

	seen := map[string]int{}
	for _, e := range merged {
		seen[e.RequestFingerprint]++
	}
	for fp, n := range seen {
		if n != 1 {
			t.Fatalf("fingerprint %s appears %d times", fp, n)
		}
	}
	if len(merged) != 4 {
		t.Fatalf("merged %d events, want 4", len(merged))
	}
	// Polled page leads; only genuinely new pushed events follow.
	if merged[0].RequestFingerprint != "x" || merged[3].RequestFingerprint != "w" {
		t.Fatalf("unexpected merge order: %+v", merged)
	}
}

func TestMergePolledProperty(t *testing.T) {
	t.Parallel()

	// Any overlap pattern between a polled page and buffered events must
	// yield no duplicate fingerprints.
	for overlap := 0; overlap <= 5; overlap++ {
		var polled, pushed []LogEvent
		for i := 0; i < 5; i++ {
			polled = append(polled, ev(fmt.Sprintf("p%d", i)))
		}
		for i := 0; i < 5; i++ {
			if i < overlap {
				pushed = append(pushed, ev(fmt.Sprintf("p%d", i)))
			} else {
				pushed = append(pushed, ev(fmt.Sprintf("q%d", i)))
			}
		}

		merged := MergePolled(polled, pushed)
		seen := map[string]struct{}{}
		for _, e := range merged {
			if _, dup := seen[e.RequestFingerprint]; dup {
				t.Fatalf("overlap=%d: duplicate %s", overlap, e.RequestFingerprint)
			}
			seen[e.RequestFingerprint] = struct{}{}
		}
		if want := 10 - overlap; len(merged) != want {
			t.Fatalf("overlap=%d: merged %d, want %d", overlap, len(merged), want)
		}
	}
}

func TestClientMergeUsesBuffer(t *testing.T) {
	t.Parallel()

	c := New(Options{URL: "ws://unused"})
	c.push(ev("fresh"))
	c.push(ev("dup"))

	merged := c.MergePolled([]LogEvent{ev("dup"), ev("old")})
	if len(merged) != 3 {
		t.Fatalf("merged %d, want 3", len(merged))
	}
}
