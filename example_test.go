package hostloop_test

import (
	"fmt"
	"time"

	hostloop "github.com/joeycumines/go-hostloop"
)

// Example_iteration drives the reactor by hand, the way an embedding main
// loop would, holding the global lock around each iteration.
func Example_iteration() {
	r, err := hostloop.New(hostloop.WithSignalBridge(false))
	if err != nil {
		fmt.Printf("Failed to create reactor: %v\n", err)
		return
	}
	defer r.Close()

	lock := r.GlobalLock()
	lock.Lock()
	defer lock.Unlock()

	done := false
	r.NewTimer(hostloop.ClockRealtime, func() {
		fmt.Println("timer fired")
		done = true
	}).ModAfter(20 * time.Millisecond)

	// ScheduleBottomHalf may also be called from other goroutines
	r.ScheduleBottomHalf(func() {
		fmt.Println("bottom half ran")
	})

	for !done {
		r.RunIteration(false)
	}

	fmt.Println("timers fired:", r.Stats().TimersFired)

	// Output:
	// bottom half ran
	// timer fired
	// timers fired: 1
}
