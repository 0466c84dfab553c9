// Package types provides shared type definitions used across gamepilot packages.
// This package exists to break import cycles between controller, cost, and session.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"fmt"
	"strings"
)

// =============================================================================
// GAME CONTEXT SNAPSHOT
// =============================================================================

// Card is a compact card reference as seen in hand or trigger zone.
type Card struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Type     string   `json:"type"` // unit, action, intercept, trigger
	Cost     int      `json:"cost"`
	Keywords []string `json:"keywords,omitempty"`
}

// CardTypeIntercept marks cards playable during the opponent's turn.
const CardTypeIntercept = "intercept"

// Unit is a card on the field.
type Unit struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	BP           int      `json:"bp"`
	Keywords     []string `json:"keywords,omitempty"`
	AbilitySlots int      `json:"ability_slots"` // granted effect deltas
	Active       bool     `json:"active"`        // untapped and able to act
}

// HasKeyword reports whether the unit carries kw (case-insensitive).
func (u Unit) HasKeyword(kw string) bool {
	for _, k := range u.Keywords {
		if strings.EqualFold(k, kw) {
			return true
		}
	}
	return false
}

// PlayerState summarizes one participant.
type PlayerState struct {
	ID          string `json:"id"`
	Life        int    `json:"life"`
	CP          int    `json:"cp"`
	MaxCP       int    `json:"max_cp"`
	DeckCount   int    `json:"deck_count"`
	Field       []Unit `json:"field,omitempty"`
	Hand        []Card `json:"hand,omitempty"`
	TriggerZone []Card `json:"trigger_zone,omitempty"`
	HandCount   int    `json:"hand_count"` // opponent hands are hidden
}

// Intercepts counts intercept cards in hand.
func (p PlayerState) Intercepts() int {
	n := 0
	for _, c := range p.Hand {
		if c.Type == CardTypeIntercept {
			n++
		}
	}
	return n
}

// GameContext is an immutable snapshot of the game pushed in by the transport
// layer. Components never mutate it; use Clone before deriving a new one.
type GameContext struct {
	Turn         int         `json:"turn"`
	Round        int         `json:"round"`
	Phase        string      `json:"phase"`
	ActivePlayer string      `json:"active_player"`
	Self         PlayerState `json:"self"`
	Opponent     PlayerState `json:"opponent"`
}

// Clone returns a deep copy.
func (g *GameContext) Clone() *GameContext {
	if g == nil {
		return nil
	}
	out := *g
	out.Self = clonePlayer(g.Self)
	out.Opponent = clonePlayer(g.Opponent)
	return &out
}

func clonePlayer(p PlayerState) PlayerState {
	out := p
	if p.Field != nil {
		out.Field = make([]Unit, len(p.Field))
	}
	for i, u := range p.Field {
		u.Keywords = append([]string(nil), u.Keywords...)
		out.Field[i] = u
	}
	out.Hand = cloneCards(p.Hand)
	out.TriggerZone = cloneCards(p.TriggerZone)
	return out
}

func cloneCards(in []Card) []Card {
	if in == nil {
		return nil
	}
	out := make([]Card, len(in))
	for i, c := range in {
		c.Keywords = append([]string(nil), c.Keywords...)
		out[i] = c
	}
	return out
}

// Summary renders a one-line digest for prompts and logs.
func (g *GameContext) Summary() string {
	if g == nil {
		return "no game context"
	}
	return fmt.Sprintf("turn %d round %d phase=%s | self life=%d cp=%d/%d field=%d hand=%d | opp life=%d field=%d hand=%d",
		g.Turn, g.Round, g.Phase,
		g.Self.Life, g.Self.CP, g.Self.MaxCP, len(g.Self.Field), len(g.Self.Hand),
		g.Opponent.Life, len(g.Opponent.Field), g.Opponent.HandCount)
}
