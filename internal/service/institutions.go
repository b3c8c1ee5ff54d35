package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jask/moneysync/internal/database/repository"
)

// InstitutionService links institutions and imports legacy token files.
type InstitutionService struct {
	Institutions *repository.InstitutionRepo
	Log          zerolog.Logger
}

// ImportResult reports a token file import.
type ImportResult struct {
	Imported []string
	Skipped  []string
	Errors   []string
}

type legacyToken struct {
	AccessToken string  `json:"access_token"`
	Cursor      *string `json:"cursor"`
	LastSync    *string `json:"last_sync"`
}

var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// Link stores an access token for name, keeping any existing cursor.
func (s *InstitutionService) Link(ctx context.Context, name, accessToken string) error {
	if strings.TrimSpace(accessToken) == "" {
		return fmt.Errorf("access token required for %q", name)
	}
	if err := s.Institutions.Upsert(ctx, name, accessToken); err != nil {
		return fmt.Errorf("link %s: %w", name, err)
	}
	s.Log.Info().Str("institution", name).Msg("institution linked")
	return nil
}

// ImportTokens reads a JSON object of name -> {access_token, cursor,
// last_sync}. Institutions already linked are left untouched.
func (s *InstitutionService) ImportTokens(ctx context.Context, r io.Reader) (ImportResult, error) {
	var raw map[string]legacyToken
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return ImportResult{}, fmt.Errorf("decode token file: %w", err)
	}
	names := make([]string, 0, len(raw))
	for n := range raw {
		names = append(names, n)
	}
	sort.Strings(names)

	var res ImportResult
	for _, name := range names {
		tok := raw[name]
		if strings.TrimSpace(tok.AccessToken) == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: missing access_token", name))
			continue
		}
		in := repository.Institution{Name: name, AccessToken: tok.AccessToken}
		if tok.Cursor != nil && strings.TrimSpace(*tok.Cursor) != "" {
			in.Cursor = tok.Cursor
		}
		if tok.LastSync != nil && *tok.LastSync != "" {
			at, err := parseLegacyTime(*tok.LastSync)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: last_sync: %v", name, err))
				continue
			}
			in.LastSyncAt = &at
		}
		inserted, err := s.Institutions.Restore(ctx, in)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if inserted {
			res.Imported = append(res.Imported, name)
		} else {
			res.Skipped = append(res.Skipped, name)
		}
	}
	s.Log.Info().Int("imported", len(res.Imported)).Int("skipped", len(res.Skipped)).Msg("token import finished")
	return res, nil
}

func parseLegacyTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range legacyTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}
