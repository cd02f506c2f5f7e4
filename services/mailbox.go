package services

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	ErrAlreadyWaiting = errors.New("a wait is already pending for this key")
	ErrNoPendingWait  = errors.New("nothing is waiting for this input")
	ErrInvalidOption  = errors.New("option out of range")
)

type messageKey struct {
	channel string
	author  string
}

type pendingSelection struct {
	options int
	ch      chan int
}

// Mailbox holds the pending waits of running games. Each wait is resolved at
// most once by a Deliver call or released by its context.
type Mailbox struct {
	mu         sync.Mutex
	messages   map[messageKey]chan string
	selections map[string]*pendingSelection
}

// NewMailbox 创建等待队列
func NewMailbox() *Mailbox {
	return &Mailbox{
		messages:   make(map[messageKey]chan string),
		selections: make(map[string]*pendingSelection),
	}
}

// AwaitMessage suspends until authorID speaks in channel. Messages from
// anyone else never satisfy it.
func (m *Mailbox) AwaitMessage(ctx context.Context, channel, authorID string) (string, error) {
	key := messageKey{channel: channel, author: authorID}
	ch := make(chan string, 1)

	m.mu.Lock()
	if _, exists := m.messages[key]; exists {
		m.mu.Unlock()
		return "", ErrAlreadyWaiting
	}
	m.messages[key] = ch
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.messages[key] == ch {
			delete(m.messages, key)
		}
		m.mu.Unlock()
	}()

	select {
	case text := <-ch:
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// DeliverMessage hands a chat message to the matching wait. It reports false
// when nobody was waiting for that author in that channel.
func (m *Mailbox) DeliverMessage(channel, authorID, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	key := messageKey{channel: channel, author: authorID}

	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.messages[key]
	if !ok {
		return false
	}
	delete(m.messages, key)
	ch <- text
	return true
}

// Waiting reports whether a message wait is open for authorID in channel.
func (m *Mailbox) Waiting(channel, authorID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.messages[messageKey{channel: channel, author: authorID}]
	return ok
}

// AwaitSelection suspends until playerID picks one of n options.
func (m *Mailbox) AwaitSelection(ctx context.Context, playerID string, n int) (int, error) {
	p := &pendingSelection{options: n, ch: make(chan int, 1)}

	m.mu.Lock()
	if _, exists := m.selections[playerID]; exists {
		m.mu.Unlock()
		return 0, ErrAlreadyWaiting
	}
	m.selections[playerID] = p
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.selections[playerID] == p {
			delete(m.selections, playerID)
		}
		m.mu.Unlock()
	}()

	select {
	case idx := <-p.ch:
		return idx, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// DeliverSelection resolves the pending selection of playerID.
func (m *Mailbox) DeliverSelection(playerID string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.selections[playerID]
	if !ok {
		return ErrNoPendingWait
	}
	if index < 0 || index >= p.options {
		return ErrInvalidOption
	}
	delete(m.selections, playerID)
	p.ch <- index
	return nil
}
