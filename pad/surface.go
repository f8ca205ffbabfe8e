package main

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/drunkenbot/lyricghost/session"
)

type ghostMsg struct {
	draft string
	ghost string
}

type statusMsg session.Status

type replaceMsg string

// forwarder delivers messages to the program in order without blocking the
// caller. The session goroutine must never wait on the UI loop, which may
// itself be waiting to dispatch an event into the session.
type forwarder struct {
	send func(tea.Msg)

	mu    sync.Mutex
	queue []tea.Msg
	wake  chan struct{}
	quit  chan struct{}
	done  chan struct{}
}

func newForwarder(send func(tea.Msg)) *forwarder {
	f := &forwarder{
		send: send,
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *forwarder) push(msg tea.Msg) {
	f.mu.Lock()
	f.queue = append(f.queue, msg)
	f.mu.Unlock()
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *forwarder) run() {
	defer close(f.done)
	for {
		select {
		case <-f.wake:
		case <-f.quit:
			return
		}
		for {
			f.mu.Lock()
			if len(f.queue) == 0 {
				f.mu.Unlock()
				break
			}
			msg := f.queue[0]
			f.queue = f.queue[1:]
			f.mu.Unlock()
			f.send(msg)
		}
	}
}

func (f *forwarder) close() {
	close(f.quit)
	<-f.done
}

// surface adapts the program to session.Surface.
type surface struct {
	f *forwarder
}

func (s surface) Render(draft, ghost string)   { s.f.push(ghostMsg{draft: draft, ghost: ghost}) }
func (s surface) SetStatus(st session.Status) { s.f.push(statusMsg(st)) }
func (s surface) ReplaceText(text string)     { s.f.push(replaceMsg(text)) }
