package main

import (
	"fmt"
	"strings"

	"gamepilot/internal/llm"
	"gamepilot/internal/types"
)

// =============================================================================
// SCRIPTED GAME
// =============================================================================
// A fixed, deterministic match used by `pilot simulate`. Board pressure grows
// every round so later rounds score higher complexity and reach higher tiers.

const (
	selfID     = "p1"
	opponentID = "p2"
)

// scriptedBoard returns the snapshot pushed at the start of round.
func scriptedBoard(round int) types.GameContext {
	gc := types.GameContext{
		Turn:         round * 2,
		Round:        round,
		Phase:        "main",
		ActivePlayer: selfID,
		Self: types.PlayerState{
			ID:        selfID,
			Life:      max(7-round/2, 1),
			CP:        min(round+1, 7),
			MaxCP:     min(round+1, 7),
			DeckCount: 40 - round*2,
		},
		Opponent: types.PlayerState{
			ID:        opponentID,
			Life:      max(7-round/3, 1),
			DeckCount: 40 - round*2,
			HandCount: 5,
		},
	}
	for i := 0; i < min(round, 4); i++ {
		gc.Self.Field = append(gc.Self.Field, types.Unit{
			ID: fmt.Sprintf("s%d", i+1), Name: "Squire", BP: 3000 + 1000*i, Active: true,
		})
		gc.Self.Hand = append(gc.Self.Hand, types.Card{
			ID: fmt.Sprintf("h%d", i+1), Name: "Spark", Type: "action", Cost: 1,
		})
	}
	if round >= 2 {
		gc.Self.Hand = append(gc.Self.Hand, types.Card{ID: "i1", Name: "Parry", Type: types.CardTypeIntercept, Cost: 1})
		gc.Opponent.Field = append(gc.Opponent.Field, types.Unit{ID: "o1", Name: "Raider", BP: 5000, Active: true})
	}
	if round >= 3 {
		gc.Opponent.Field = append(gc.Opponent.Field, types.Unit{
			ID: "o2", Name: "Warlord", BP: 8000, Active: true, Keywords: []string{"pierce"}, AbilitySlots: 1,
		})
		gc.Self.TriggerZone = []types.Card{{ID: "t1", Name: "Ambush", Type: "trigger"}}
	}
	if round >= 4 {
		gc.Opponent.Field = append(gc.Opponent.Field, types.Unit{
			ID: "o3", Name: "Aura Keeper", BP: 4000, Active: true, Keywords: []string{"aura"},
		})
	}
	return gc
}

// scriptedPrompts returns the inbound messages of round in order.
func scriptedPrompts(round int) []types.Message {
	var msgs []types.Message
	id := func(kind string) string { return fmt.Sprintf("r%d-%s", round, kind) }

	if round == 1 {
		msgs = append(msgs, types.Message{Type: "mulligan", PromptID: id("mulligan"), PlayerID: selfID})
	}
	msgs = append(msgs, types.Message{
		Type: "turn_action", PromptID: id("action"), PlayerID: selfID,
		Legal: []string{"play", "attack", "pass"},
	})
	if round >= 2 {
		msgs = append(msgs, types.Message{
			Type: "choice_block", PromptID: id("block"), PlayerID: selfID,
			Options: []types.ChoiceOption{{ID: "s1", Label: "Squire"}, {ID: "none", Label: "No block"}},
			Min:     1, Max: 1,
		})
	}
	msgs = append(msgs, types.Message{Type: "continue", PromptID: id("continue")})
	return msgs
}

// scriptedPlayer answers prompts built by session.JSONPrompter without a
// network call. It attacks when it can and picks the first offered option.
func scriptedPlayer(system, user string, _ llm.Options) (string, error) {
	switch {
	case strings.Contains(system, "analyst"):
		return "Board is even; keep pressure on the largest opposing unit.", nil
	case strings.Contains(system, "compress"):
		return "Earlier rounds: steady development, no life lost to pierce yet.", nil
	}

	kind := lineAfter(user, "Event: ")
	switch {
	case strings.HasPrefix(kind, "mulligan"):
		return `{"return":[],"reasoning":"curve is fine"}`, nil
	case strings.HasPrefix(kind, "turn_action"):
		action := "pass"
		legal := lineAfter(user, "Legal actions: ")
		for _, a := range strings.Split(legal, ", ") {
			if a == "attack" {
				action = a
				break
			}
		}
		return fmt.Sprintf(`{"action":%q,"reasoning":"press the advantage"}`, action), nil
	case strings.HasPrefix(kind, "choice_"):
		opt := strings.TrimSpace(lineAfter(user, "  "))
		if i := strings.Index(opt, ":"); i > 0 {
			opt = opt[:i]
		}
		return fmt.Sprintf(`{"selected":[%q],"reasoning":"first option"}`, opt), nil
	}
	return `{"reasoning":"nothing to do"}`, nil
}

// lineAfter returns the rest of the first line starting with prefix.
func lineAfter(text, prefix string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimPrefix(line, prefix)
		}
	}
	return ""
}
