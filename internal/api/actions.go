package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"nexus/internal/game"
)

// Action is one entry of the dispatch table behind POST /v1/actions.
type Action interface {
	Run(ctx context.Context, user UserContext, payload json.RawMessage) (any, error)
}

// actionFunc decodes the payload strictly into In before calling the handler.
type actionFunc[In any] func(ctx context.Context, user UserContext, in In) (any, error)

func (f actionFunc[In]) Run(ctx context.Context, user UserContext, payload json.RawMessage) (any, error) {
	var in In
	if len(bytes.TrimSpace(payload)) > 0 && string(bytes.TrimSpace(payload)) != "null" {
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&in); err != nil {
			return nil, fmt.Errorf("%w: invalid payload: %v", game.ErrInvalidInput, err)
		}
	}
	return f(ctx, user, in)
}

type noPayload struct{}

type doctrinePayload struct {
	Category string `json:"category"`
	Doctrine string `json:"doctrine"`
}

type taxPayload struct {
	TaxAmount int64 `json:"taxAmount"`
}

type raidPayload struct {
	DefenderID string      `json:"defender_id"`
	KnightIDs  game.IDList `json:"knight_ids"`
}

func (s *Server) registerActions() {
	s.actions = map[string]Action{
		"getKingdomState": actionFunc[noPayload](func(ctx context.Context, _ UserContext, _ noPayload) (any, error) {
			return s.game.KingdomState(ctx)
		}),
		"setKingdomDoctrine": actionFunc[doctrinePayload](func(ctx context.Context, u UserContext, in doctrinePayload) (any, error) {
			return s.game.SetDoctrine(ctx, game.DoctrineInput{UserID: u.UserID, Category: in.Category, Doctrine: in.Doctrine})
		}),
		"addTaxToKingdomTreasury": actionFunc[taxPayload](func(ctx context.Context, u UserContext, in taxPayload) (any, error) {
			return s.game.AddTax(ctx, u.UserID, in.TaxAmount)
		}),
		"getRaidTargets": actionFunc[noPayload](func(ctx context.Context, u UserContext, _ noPayload) (any, error) {
			targets, err := s.game.RaidTargets(ctx, u.UserID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"targets": targets}, nil
		}),
		"launchRaid": actionFunc[raidPayload](func(ctx context.Context, u UserContext, in raidPayload) (any, error) {
			return s.game.LaunchRaid(ctx, game.RaidInput{
				AttackerID: u.UserID,
				DefenderID: in.DefenderID,
				KnightIDs:  []string(in.KnightIDs),
			})
		}),
		"getRaidHistory": actionFunc[noPayload](func(ctx context.Context, u UserContext, _ noPayload) (any, error) {
			history, err := s.game.RaidHistory(ctx, u.UserID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"history": history}, nil
		}),
		"getRaidStats": actionFunc[noPayload](func(ctx context.Context, u UserContext, _ noPayload) (any, error) {
			return s.game.RaidStats(ctx, u.UserID)
		}),
		"getMyKnights": actionFunc[noPayload](func(ctx context.Context, u UserContext, _ noPayload) (any, error) {
			return s.game.Knights(ctx, u.UserID)
		}),
	}
}

func (s *Server) actionNames() []string {
	names := make([]string, 0, len(s.actions))
	for name := range s.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
