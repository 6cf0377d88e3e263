package notify

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestCallbackListOrder(t *testing.T) {
	callbacks := NewCallbackList[func()]()

	calls := []int{}
	callbacks.Add(func() {
		calls = append(calls, 1)
	})
	second := callbacks.Add(func() {
		calls = append(calls, 2)
	})
	callbacks.Add(func() {
		calls = append(calls, 3)
	})

	for _, callback := range callbacks.Get() {
		callback()
	}
	assert.Equal(t, calls, []int{1, 2, 3})

	callbacks.Remove(second)
	// removing twice is a no-op
	callbacks.Remove(second)

	calls = []int{}
	for _, callback := range callbacks.Get() {
		callback()
	}
	assert.Equal(t, calls, []int{1, 3})
}

func TestSafeCallback(t *testing.T) {
	called := false
	safeCallback("test", func() {
		called = true
		panic("listener bug")
	})
	// reaching here is the point: the panic did not escape
	assert.Equal(t, called, true)
}

func TestReconnectAfter(t *testing.T) {
	reconnect := NewReconnect(20 * time.Millisecond)

	start := time.Now()
	select {
	case <-reconnect.After():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for reconnect delay")
	}
	elapsed := time.Since(start)
	assert.Equal(t, elapsed < 5*time.Second, true)

	// time already spent counts against the delay
	slept := NewReconnect(10 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	select {
	case <-slept.After():
	case <-time.After(time.Second):
		t.Fatal("elapsed delay should fire immediately")
	}
}
