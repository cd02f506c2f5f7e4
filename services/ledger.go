package services

import (
	"context"
	"sync"

	"github.com/qianlnk/mafia/models"
)

// ActionKind keys the night ledger.
type ActionKind string

const (
	ActionMafiaKill   ActionKind = "mafia_kill"
	ActionKills       ActionKind = "kills"
	ActionSaves       ActionKind = "saves"
	ActionInvestigate ActionKind = "investigate"
)

// LedgerEntry is one resolved night action.
type LedgerEntry struct {
	Actor  *models.Player
	Target *models.Player
	Reason models.DeathReason
}

// Death is a kill that actually happened during resolution.
type Death struct {
	Player *models.Player
	Reason models.DeathReason
}

// NightLedger collects the night's actions until the join point.
// Writers run concurrently; Resolve runs after every writer returned.
type NightLedger struct {
	mu      sync.Mutex
	entries map[ActionKind][]LedgerEntry
}

// NewNightLedger 创建夜晚行动记录
func NewNightLedger() *NightLedger {
	return &NightLedger{entries: make(map[ActionKind][]LedgerEntry)}
}

// Record appends an entry.
func (l *NightLedger) Record(kind ActionKind, e LedgerEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[kind] = append(l.entries[kind], e)
}

// SetMafiaKill stores the single Mafia target, replacing any earlier one.
func (l *NightLedger) SetMafiaKill(target *models.Player) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[ActionMafiaKill] = []LedgerEntry{{Target: target, Reason: models.DeathMafia}}
}

// Entries returns a copy of the entries for kind.
func (l *NightLedger) Entries(kind ActionKind) []LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LedgerEntry(nil), l.entries[kind]...)
}

// Len counts all entries.
func (l *NightLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, es := range l.entries {
		n += len(es)
	}
	return n
}

// Clear drops every entry.
func (l *NightLedger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[ActionKind][]LedgerEntry)
}

// Resolve applies the kills. Independent kills land regardless of saves; the
// Mafia kill is cancelled only when its exact target was saved.
func (l *NightLedger) Resolve() []Death {
	l.mu.Lock()
	defer l.mu.Unlock()

	var deaths []Death
	for _, e := range l.entries[ActionKills] {
		if e.Target != nil && e.Target.Kill(e.Reason) {
			deaths = append(deaths, Death{Player: e.Target, Reason: e.Reason})
		}
	}

	saved := make(map[string]bool)
	for _, e := range l.entries[ActionSaves] {
		if e.Target != nil {
			saved[e.Target.ID] = true
		}
	}
	for _, e := range l.entries[ActionMafiaKill] {
		if e.Target == nil || saved[e.Target.ID] {
			continue
		}
		if e.Target.Kill(models.DeathMafia) {
			deaths = append(deaths, Death{Player: e.Target, Reason: models.DeathMafia})
		}
	}
	return deaths
}

// Night is what a role's resolution callback sees.
type Night struct {
	Day      int
	Ledger   *NightLedger
	disclose func(ctx context.Context, to *models.Player, text string)
}

// NewNight 创建一个夜晚
func NewNight(day int, ledger *NightLedger, disclose func(ctx context.Context, to *models.Player, text string)) *Night {
	return &Night{Day: day, Ledger: ledger, disclose: disclose}
}

// Disclose tells one player something privately.
func (n *Night) Disclose(ctx context.Context, to *models.Player, text string) {
	if n.disclose != nil {
		n.disclose(ctx, to, text)
	}
}

// DiscloseInvestigations tells every investigator what they found. It runs
// after the join, so an aborted night discloses nothing.
func (n *Night) DiscloseInvestigations(ctx context.Context) {
	for _, e := range n.Ledger.Entries(ActionInvestigate) {
		if e.Actor != nil && e.Target != nil {
			n.Disclose(ctx, e.Actor, investigationResult(e.Target))
		}
	}
}
