package ping

import (
	"time"

	"github.com/stacks-network/gsigner/log"
)

// Sender abstracts how a probe leaves the process; satisfied by the
// run-loop's command queue.
type Sender interface {
	SendPing(payloadSize int) error
}

// Pinger issues a probe every interval until stopped.
type Pinger struct {
	sender      Sender
	interval    time.Duration
	payloadSize int

	stop chan struct{}
	done chan struct{}
}

// NewPinger creates a periodic pinger; call Start to begin probing.
func NewPinger(sender Sender, interval time.Duration, payloadSize int) *Pinger {
	return &Pinger{
		sender:      sender,
		interval:    interval,
		payloadSize: payloadSize,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the probe loop in a background goroutine.
func (p *Pinger) Start() {
	go p.loop()
}

// Stop terminates the probe loop and waits for it to exit.
func (p *Pinger) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Pinger) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := p.sender.SendPing(p.payloadSize); err != nil {
				log.Warn("Failed to send periodic ping", "err", err)
			}
		case <-p.stop:
			return
		}
	}
}
