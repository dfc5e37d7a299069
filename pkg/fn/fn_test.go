package fn

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestMapAndFilter(t *testing.T) {
	nums := []int{1, 2, 3, 4}

	doubled := Map(nums, func(n int) int { return n * 2 })
	if doubled[3] != 8 {
		t.Fatalf("Map: got %v", doubled)
	}

	evens := Filter(nums, func(n int) bool { return n%2 == 0 })
	if len(evens) != 2 || evens[0] != 2 {
		t.Fatalf("Filter: got %v", evens)
	}
}

func TestUniqueByFirstWins(t *testing.T) {
	type pair struct{ k, v string }
	in := []pair{{"a", "first"}, {"b", "x"}, {"a", "second"}}
	out := UniqueBy(in, func(p pair) string { return p.k })
	if len(out) != 2 || out[0].v != "first" {
		t.Fatalf("got %v", out)
	}
}

func TestUnique(t *testing.T) {
	out := Unique([]string{"a", "b", "a", "c", "b"})
	if len(out) != 3 || out[0] != "a" || out[2] != "c" {
		t.Fatalf("got %v", out)
	}
}

func TestTruncate(t *testing.T) {
	in := []int{1, 2, 3}
	if got := Truncate(in, 2); len(got) != 2 {
		t.Fatalf("got %v", got)
	}
	if got := Truncate(in, 10); len(got) != 3 {
		t.Fatalf("got %v", got)
	}
	if got := Truncate(in, -1); len(got) != 3 {
		t.Fatalf("negative n should be a no-op, got %v", got)
	}
}

func TestParMapPreservesOrder(t *testing.T) {
	in := make([]int, 50)
	for i := range in {
		in[i] = i
	}
	out := ParMap(in, 8, func(n int) string { return strconv.Itoa(n) })
	for i, s := range out {
		if s != strconv.Itoa(i) {
			t.Fatalf("order broken at %d: %q", i, s)
		}
	}
}

func TestParMapResult(t *testing.T) {
	out := ParMapResult([]int{1, 2}, 2, func(n int) Result[int] {
		if n == 2 {
			return Errf[int]("boom")
		}
		return Ok(n * 10)
	})
	if v, err := out[0].Unwrap(); err != nil || v != 10 {
		t.Fatalf("got %d, %v", v, err)
	}
	if out[1].IsOk() {
		t.Fatal("error result lost")
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	var calls atomic.Int64
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond},
		func(context.Context) Result[string] {
			if calls.Add(1) < 3 {
				return Errf[string]("not yet")
			}
			return Ok("done")
		})
	v, err := r.Unwrap()
	if err != nil || v != "done" {
		t.Fatalf("got %q, %v", v, err)
	}
	if calls.Load() != 3 {
		t.Fatalf("%d calls, want 3", calls.Load())
	}
}

func TestRetryExhausts(t *testing.T) {
	boom := errors.New("boom")
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond},
		func(context.Context) Result[int] { return Err[int](boom) })
	if _, err := r.Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}

func TestPipelineShortCircuits(t *testing.T) {
	boom := errors.New("boom")
	var ran bool
	p := Pipeline(
		MapStage(func(n int) int { return n + 1 }),
		func(context.Context, int) Result[int] { return Err[int](boom) },
		MapStage(func(n int) int { ran = true; return n }),
	)
	if _, err := p(context.Background(), 1).Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
	if ran {
		t.Fatal("stage after failure must not run")
	}
}

func TestTracedStagePassesThrough(t *testing.T) {
	s := TracedStage("test", MapStage(func(n int) int { return n * 2 }))
	v, err := s(context.Background(), 21).Unwrap()
	if err != nil || v != 42 {
		t.Fatalf("got %d, %v", v, err)
	}
}

func TestResultHelpers(t *testing.T) {
	if Ok(1).IsErr() || Err[int](errors.New("x")).IsOk() {
		t.Fatal("Ok/Err state wrong")
	}
	if Err[int](errors.New("x")).UnwrapOr(7) != 7 {
		t.Fatal("UnwrapOr fallback wrong")
	}
	if v, _ := FromPair(5, nil).Unwrap(); v != 5 {
		t.Fatal("FromPair value lost")
	}
	if _, err := FromPair(0, errors.New("x")).Unwrap(); err == nil {
		t.Fatal("FromPair error lost")
	}
}
