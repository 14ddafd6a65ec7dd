//go:build unix

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ChamsBouzaiene/gencode/internal/interaction"
)

// watchPauseSignal toggles the pauser on SIGUSR1. The running conversation
// holds at its next checkpoint until the signal is sent again.
func watchPauseSignal(p *interaction.Pauser) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ch:
				if p.Paused() {
					p.Resume()
					log.Println("▶️  Resumed")
				} else {
					p.Pause()
					log.Println("⏸️  Paused (send SIGUSR1 again to resume)")
				}
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
