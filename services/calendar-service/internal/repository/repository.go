// Package repository persists accounts, service accounts, conferencing
// users, calendars and events in Postgres. Settings blobs and access tokens
// are sealed before they reach the database.
package repository

import (
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Rohianon/uou/pkg/crypto"
)

//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory of Migrations that holds the SQL files.
const MigrationsDir = "migrations"

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// secrets seals and opens the sensitive columns of a row
type secrets struct {
	sealer *crypto.Sealer
}

func (s secrets) sealBlob(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	out, err := s.sealer.Seal(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to seal settings: %w", err)
	}
	return out, nil
}

func (s secrets) openBlob(sealed []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, nil
	}
	out, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings: %w", err)
	}
	return out, nil
}

func (s secrets) sealToken(token string) (string, error) {
	out, err := s.sealer.SealString(token)
	if err != nil {
		return "", fmt.Errorf("failed to seal access token: %w", err)
	}
	return out, nil
}

func (s secrets) openToken(sealed string) (string, error) {
	out, err := s.sealer.OpenString(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to open access token: %w", err)
	}
	return out, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
