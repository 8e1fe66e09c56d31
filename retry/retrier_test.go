package retry

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

// insomniac implements a sleep function, but it doesn't actually sleep, it just notes down the intervals it was
// told to sleep
type insomniac struct {
	sleepIntervals []time.Duration
}

func newInsomniac() *insomniac {
	return &insomniac{sleepIntervals: []time.Duration{}}
}

func (i *insomniac) sleep(interval time.Duration) {
	i.sleepIntervals = append(i.sleepIntervals, interval)
}

func dummySleep(interval time.Duration) {}

var errDummy = errors.New("this makes it retry")

func TestDo(t *testing.T) {
	t.Parallel()

	i := newInsomniac()
	err := NewRetrier(
		WithStrategy(Exponential(2*time.Second, 0)),
		WithMaxAttempts(5),
		WithSleepFunc(i.sleep),
	).Do(func(_ *Retrier) error {
		return errDummy
	})

	if err == nil {
		t.Fatal("expected an error")
	}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		// There are only four waits, because after the fifth try (the fourth wait), the retrier gives up
	}
	if !reflect.DeepEqual(i.sleepIntervals, want) {
		t.Errorf("sleepIntervals = %v, want %v", i.sleepIntervals, want)
	}
}

func TestDo_OnSuccess_ReturnsNil(t *testing.T) {
	t.Parallel()

	callcount := 0
	i := newInsomniac()
	err := NewRetrier(
		WithStrategy(Exponential(2*time.Second, 0)),
		WithMaxAttempts(50),
		WithSleepFunc(i.sleep),
	).Do(func(_ *Retrier) error {
		callcount += 1
		if callcount >= 9 {
			// It "succeeded" on the 9th try
			return nil
		}
		return errDummy
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if callcount != 9 {
		t.Errorf("callcount = %d, want 9", callcount)
	}
}

func TestShouldGiveUp_WithMaxAttempts(t *testing.T) {
	t.Parallel()

	callcount := 0

	err := NewRetrier(
		WithStrategy(Constant(1*time.Second)),
		WithMaxAttempts(3),
		WithSleepFunc(dummySleep),
	).Do(func(_ *Retrier) error {
		callcount += 1
		return errDummy
	})

	if !errors.Is(err, errDummy) {
		t.Errorf("err = %v, want %v", err, errDummy)
	}
	if callcount != 3 {
		t.Errorf("callcount = %d, want 3", callcount)
	}
}

func TestShouldGiveUp_Break(t *testing.T) {
	t.Parallel()

	callcount := 0
	err := NewRetrier(
		WithStrategy(Constant(1*time.Second)),
		WithMaxAttempts(500),
		WithSleepFunc(dummySleep),
	).Do(func(r *Retrier) error {
		callcount += 1

		if callcount > 250 {
			r.Break()
		}

		return errDummy
	})

	if !errors.Is(err, errDummy) {
		t.Errorf("err = %v, want %v", err, errDummy)
	}
	if callcount >= 500 {
		t.Errorf("callcount = %d, should have broken before hitting max attempts", callcount)
	}
	if callcount != 251 {
		t.Errorf("callcount = %d, want 251", callcount)
	}
}

func TestShouldGiveUp_Forever(t *testing.T) {
	t.Parallel()

	err := NewRetrier(
		WithStrategy(Constant(1*time.Second)),
		TryForever(),
		WithSleepFunc(dummySleep),
	).Do(func(r *Retrier) error {
		if r.ShouldGiveUp() {
			t.Error("ShouldGiveUp() = true for a forever retrier")
		}

		if r.AttemptCount() == 10_000 { // an arbitrarily large number of retries
			return nil
		}

		return errDummy
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNextInterval_ConstantStrategy(t *testing.T) {
	t.Parallel()

	i := newInsomniac()
	err := NewRetrier(
		WithStrategy(Constant(5*time.Second)),
		WithMaxAttempts(1000),
		WithSleepFunc(i.sleep),
	).Do(func(_ *Retrier) error { return errDummy })

	if err == nil {
		t.Fatal("expected an error")
	}

	for _, interval := range i.sleepIntervals {
		if interval != 5*time.Second {
			t.Errorf("interval = %v, want 5s", interval)
		}
	}
}

func TestNextInterval_ConstantStrategy_WithJitter(t *testing.T) {
	t.Parallel()

	expected := 5 * time.Second
	i := newInsomniac()
	err := NewRetrier(
		WithStrategy(Constant(expected)),
		WithJitter(),
		WithMaxAttempts(1000),
		WithSleepFunc(i.sleep),
	).Do(func(_ *Retrier) error { return errDummy })

	if !errors.Is(err, errDummy) {
		t.Errorf("err = %v, want %v", err, errDummy)
	}

	for _, interval := range i.sleepIntervals {
		if !withinJitterInterval(interval, expected) {
			t.Errorf("actual interval %v was not within %v of expected interval %v", interval, jitterInterval, expected)
		}
	}
}

func TestNextInterval_ExponentialStrategy(t *testing.T) {
	t.Parallel()

	i := newInsomniac()
	err := NewRetrier(
		WithStrategy(Exponential(2*time.Second, 0)),
		WithMaxAttempts(5),
		WithSleepFunc(i.sleep),
	).Do(func(_ *Retrier) error { return errDummy })

	if err == nil {
		t.Fatal("expected an error")
	}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}
	if !reflect.DeepEqual(i.sleepIntervals, want) {
		t.Errorf("sleepIntervals = %v, want %v", i.sleepIntervals, want)
	}
}

func TestNextInterval_ExponentialStrategy_WithAdjustment(t *testing.T) {
	t.Parallel()

	i := newInsomniac()
	err := NewRetrier(
		WithStrategy(Exponential(2*time.Second, 3*time.Second)),
		WithMaxAttempts(6),
		WithSleepFunc(i.sleep),
	).Do(func(_ *Retrier) error { return errDummy })

	if err == nil {
		t.Fatal("expected an error")
	}

	want := []time.Duration{
		4 * time.Second,
		5 * time.Second,
		7 * time.Second,
		11 * time.Second,
		19 * time.Second,
	}
	if !reflect.DeepEqual(i.sleepIntervals, want) {
		t.Errorf("sleepIntervals = %v, want %v", i.sleepIntervals, want)
	}
}

func TestNextInterval_ExponentialStrategy_WithJitter(t *testing.T) {
	t.Parallel()

	i := newInsomniac()
	err := NewRetrier(
		WithStrategy(Exponential(2*time.Second, 0)),
		WithMaxAttempts(6),
		WithSleepFunc(i.sleep),
	).Do(func(_ *Retrier) error { return errDummy })

	if err == nil {
		t.Fatal("expected an error")
	}

	expectedIntervals := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}

	for idx, actualInterval := range i.sleepIntervals {
		if !withinJitterInterval(actualInterval, expectedIntervals[idx]) {
			t.Errorf("actual interval %v wasn't within %v of expected interval %v", actualInterval, jitterInterval, expectedIntervals[idx])
		}
	}
}

func withinJitterInterval(this, that time.Duration) bool {
	bigger, smaller := this, that
	if bigger < smaller {
		bigger, smaller = smaller, bigger
	}
	return bigger-smaller <= jitterInterval
}
