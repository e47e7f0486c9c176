// Package history rebuilds an ordered, role-consistent conversation from the
// append-only turn log.
package history

import (
	"context"
	"fmt"

	"github.com/harun/closedai/pkg/session"
	"github.com/rs/zerolog"
)

// DefaultLimit is the number of raw turns fetched per reconstruction.
const DefaultLimit = 20

// Reconstructor reads recent turns from a session.Log and repairs them so
// the result can be sent to a completion API.
type Reconstructor struct {
	log    session.Log
	limit  int
	logger zerolog.Logger
}

// New creates a Reconstructor. A non-positive limit falls back to DefaultLimit.
func New(log session.Log, limit int, logger zerolog.Logger) *Reconstructor {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Reconstructor{log: log, limit: limit, logger: logger}
}

// Load fetches the most recent turns of a conversation and returns them
// oldest first, starting with a user turn and never ending on a model
// turn whose tool calls have no results. An empty result is valid.
func (r *Reconstructor) Load(ctx context.Context, conversationID string) ([]session.Turn, error) {
	recent, err := r.log.RecentTurns(ctx, conversationID, r.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", conversationID, err)
	}

	turns := Rebuild(recent)
	r.logger.Debug().
		Str("conversation_id", conversationID).
		Int("fetched", len(recent)).
		Int("kept", len(turns)).
		Msg("History reconstructed")
	return turns, nil
}

// Rebuild applies the repair steps to turns given newest first.
func Rebuild(newestFirst []session.Turn) []session.Turn {
	turns := make([]session.Turn, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		turn := newestFirst[i]
		turn.Role = EffectiveRole(turn)
		turns = append(turns, turn)
	}

	for len(turns) > 0 && turns[0].Role != session.RoleUser {
		turns = turns[1:]
	}

	for len(turns) > 0 {
		last := turns[len(turns)-1]
		if last.Role != session.RoleModel || !last.HasToolCalls() {
			break
		}
		turns = turns[:len(turns)-1]
	}

	for i := range turns {
		turns[i].Parts = normalizeParts(turns[i].Parts)
	}

	return mergeAdjacent(turns)
}

// EffectiveRole classifies a stored turn: any tool result makes it a tool
// turn, any tool call makes it a model turn, otherwise the stored tag decides
// between model and user.
func EffectiveRole(turn session.Turn) session.Role {
	if turn.HasToolResults() {
		return session.RoleTool
	}
	if turn.HasToolCalls() || turn.Role == session.RoleModel {
		return session.RoleModel
	}
	return session.RoleUser
}

func normalizeParts(parts []session.Part) []session.Part {
	out := make([]session.Part, len(parts))
	for i, p := range parts {
		if p.InlineMedia != nil {
			media := *p.InlineMedia
			media.MIMEType = NormalizeMIME(media.MIMEType, media.Data)
			p.InlineMedia = &media
		}
		out[i] = p
	}
	return out
}

func mergeAdjacent(turns []session.Turn) []session.Turn {
	if len(turns) < 2 {
		return turns
	}
	merged := make([]session.Turn, 0, len(turns))
	for _, turn := range turns {
		n := len(merged)
		if n > 0 && merged[n-1].Role == turn.Role {
			parts := make([]session.Part, 0, len(merged[n-1].Parts)+len(turn.Parts))
			parts = append(parts, merged[n-1].Parts...)
			merged[n-1].Parts = append(parts, turn.Parts...)
			merged[n-1].Timestamp = turn.Timestamp
			continue
		}
		merged = append(merged, turn)
	}
	return merged
}
