// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirrus7/ready-or-not-sub011/internal/kvstore"
	"github.com/sirrus7/ready-or-not-sub011/internal/log"
)

// TeamAuthValidity is how long a cached team login is honoured.
const TeamAuthValidity = 24 * time.Hour

// TeamAuth is a team device's cached login for one session.
type TeamAuth struct {
	TeamID    string    `json:"teamId"`
	TeamName  string    `json:"teamName"`
	LoginTime time.Time `json:"loginTime"`
}

func teamKeys(sessionID string) (id, name, login string) {
	return "ron_teamId_" + sessionID, "ron_teamName_" + sessionID, "ron_loginTime_" + sessionID
}

// SaveTeamAuth records a login at the current time.
func (s *Store) SaveTeamAuth(ctx context.Context, sessionID, teamID, teamName string) (TeamAuth, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return TeamAuth{}, ErrInvalidSession
	}
	if strings.TrimSpace(teamID) == "" {
		return TeamAuth{}, errors.New("settings: team id is required")
	}
	auth := TeamAuth{TeamID: teamID, TeamName: teamName, LoginTime: s.now().UTC().Truncate(time.Millisecond)}

	idKey, nameKey, loginKey := teamKeys(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kv := range [][2]string{
		{idKey, auth.TeamID},
		{nameKey, auth.TeamName},
		{loginKey, strconv.FormatInt(auth.LoginTime.UnixMilli(), 10)},
	} {
		if err := s.kv.Set(ctx, kv[0], kv[1]); err != nil {
			return TeamAuth{}, fmt.Errorf("save team auth: %w", err)
		}
	}
	return auth, nil
}

// LoadTeamAuth returns the cached login, or nil when there is none or it
// is at least TeamAuthValidity old. Expired or partial records are cleared.
func (s *Store) LoadTeamAuth(ctx context.Context, sessionID string) (*TeamAuth, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	idKey, nameKey, loginKey := teamKeys(sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()

	vals := make([]string, 3)
	missing := 0
	for i, k := range []string{idKey, nameKey, loginKey} {
		v, err := s.kv.Get(ctx, k)
		switch {
		case errors.Is(err, kvstore.ErrNotFound):
			missing++
		case err != nil:
			return nil, fmt.Errorf("load team auth: %w", err)
		}
		vals[i] = v
	}
	if missing == 3 {
		return nil, nil
	}

	ms, err := strconv.ParseInt(vals[2], 10, 64)
	if missing > 0 || err != nil || vals[0] == "" {
		s.logger.Debug().Str(log.FieldSessionID, sessionID).Msg("discarding incomplete team login")
		return nil, s.clearTeamLocked(ctx, sessionID)
	}
	login := time.UnixMilli(ms).UTC()
	if s.now().Sub(login) >= TeamAuthValidity {
		s.logger.Info().Str(log.FieldSessionID, sessionID).Msg("team login expired")
		return nil, s.clearTeamLocked(ctx, sessionID)
	}
	return &TeamAuth{TeamID: vals[0], TeamName: vals[1], LoginTime: login}, nil
}

// ClearTeamAuth forgets the cached login.
func (s *Store) ClearTeamAuth(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrInvalidSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearTeamLocked(ctx, sessionID)
}

func (s *Store) clearTeamLocked(ctx context.Context, sessionID string) error {
	idKey, nameKey, loginKey := teamKeys(sessionID)
	for _, k := range []string{idKey, nameKey, loginKey} {
		if err := s.kv.Delete(ctx, k); err != nil {
			return fmt.Errorf("clear team auth: %w", err)
		}
	}
	return nil
}
