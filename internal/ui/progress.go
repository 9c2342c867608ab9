package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Spinner shows an animated status line while a run is in flight. On a
// non-terminal stdout it prints only the final line.
type Spinner struct {
	frames  []string
	current int
	message string
	started time.Time
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	animate bool
}

func NewSpinner(message string) *Spinner {
	return &Spinner{
		frames:  []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		message: message,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		animate: supportsColor,
	}
}

// Start begins the spinner animation
func (s *Spinner) Start() {
	s.started = time.Now()
	if !s.animate {
		close(s.done)
		return
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				fmt.Printf("\r%s %s %s",
					ColorProgress(s.frames[s.current]),
					s.message,
					strings.Repeat(" ", 20),
				)
				s.current = (s.current + 1) % len(s.frames)
				s.mu.Unlock()
			}
		}
	}()
}

// Stop ends the animation and prints the final status with elapsed time.
// Calling Stop more than once prints only the first result.
func (s *Spinner) Stop(success bool, message string) {
	s.once.Do(func() {
		close(s.stop)
		<-s.done

		if s.animate {
			fmt.Print("\r\033[K")
		}
		elapsed := ColorDim("(" + formatDuration(time.Since(s.started)) + ")")
		if success {
			fmt.Printf("%s %s %s\n", ColorSuccess("✓"), message, elapsed)
		} else {
			fmt.Printf("%s %s %s\n", ColorError("✗"), message, elapsed)
		}
	})
}

func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}
