package upsafe

import "testing"

func TestWithMutates(t *testing.T) {
	c := New("counter", 1)
	c.With(func(v *int) { *v += 41 })
	if got := Get(c, func(v *int) int { return *v }); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestNestedBorrowPanics(t *testing.T) {
	c := New("nested", struct{}{})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected nested borrow to panic")
		}
		if c.Borrowed() {
			t.Fatalf("expected guard released after panic")
		}
		if Held() != 0 {
			t.Fatalf("expected no live guards, got %d", Held())
		}
	}()
	c.With(func(*struct{}) {
		c.With(func(*struct{}) {})
	})
}

func TestHeldCountsAcrossCells(t *testing.T) {
	a := New("a", 0)
	b := New("b", 0)
	a.With(func(*int) {
		b.With(func(*int) {
			if Held() != 2 {
				t.Fatalf("expected 2 live guards, got %d", Held())
			}
		})
		if Held() != 1 {
			t.Fatalf("expected 1 live guard, got %d", Held())
		}
	})
	if Held() != 0 {
		t.Fatalf("expected 0 live guards, got %d", Held())
	}
}
