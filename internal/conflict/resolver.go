// Package conflict implements last-write-wins reconciliation of a local task
// against the version held by the remote.
package conflict

import (
	"fmt"
	"strings"
	"time"

	"tasksync/internal/models"

	"github.com/rs/zerolog"
)

// TieBreak selects the winner when both versions carry the same updated_at.
type TieBreak string

const (
	TieBreakServer TieBreak = "server"
	TieBreakLocal  TieBreak = "local"
)

// ParseTieBreak accepts "server" or "local", case-insensitively. Empty means server.
func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(strings.ToLower(strings.TrimSpace(s))) {
	case "", TieBreakServer:
		return TieBreakServer, nil
	case TieBreakLocal:
		return TieBreakLocal, nil
	default:
		return "", fmt.Errorf("unknown tie break %q", s)
	}
}

// Side names the version that won a conflict.
type Side string

const (
	SideLocal  Side = "local"
	SideServer Side = "server"
)

// Decision is the outcome of resolving one conflict.
type Decision struct {
	Winner          models.Task
	Side            Side
	LocalUpdatedAt  time.Time
	ServerUpdatedAt time.Time
}

type Resolver struct {
	tieBreak TieBreak
	logger   *zerolog.Logger
}

func NewResolver(tieBreak TieBreak, logger *zerolog.Logger) *Resolver {
	if tieBreak == "" {
		tieBreak = TieBreakServer
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Resolver{tieBreak: tieBreak, logger: logger}
}

// Resolve returns whichever version has the later updated_at, in full.
// Fields are never merged.
func (r *Resolver) Resolve(local, server models.Task) Decision {
	d := Decision{
		LocalUpdatedAt:  local.UpdatedAt,
		ServerUpdatedAt: server.UpdatedAt,
	}

	switch {
	case local.UpdatedAt.After(server.UpdatedAt):
		d.Side = SideLocal
	case server.UpdatedAt.After(local.UpdatedAt):
		d.Side = SideServer
	case r.tieBreak == TieBreakLocal:
		d.Side = SideLocal
	default:
		d.Side = SideServer
	}

	if d.Side == SideLocal {
		d.Winner = local
	} else {
		d.Winner = server
	}

	r.logger.Info().
		Str("task_id", local.ID).
		Time("local_updated_at", local.UpdatedAt).
		Time("server_updated_at", server.UpdatedAt).
		Str("winner", string(d.Side)).
		Msg("conflict resolved")

	return d
}
