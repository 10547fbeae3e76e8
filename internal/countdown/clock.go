package countdown

import "time"

// RealClock ticks using wall-clock seconds.
type RealClock struct{}

func (RealClock) After(seconds int) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		time.Sleep(time.Duration(seconds) * time.Second)
		close(ch)
	}()
	return ch
}
