/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package voices manages the catalog of speech voices and which one is
// currently selected for synthesis.
package voices

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gopkg.in/yaml.v3"

	"github.com/dusanmitrovic98/play-radio-tts/internal/events"
)

// ErrVoiceNotFound indicates a lookup by alias matched nothing.
var ErrVoiceNotFound = errors.New("voice not found")

// Voice is one synthesizable voice. Name is the short alias used in the
// API; ShortName is the engine's identifier.
type Voice struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Name      string    `gorm:"uniqueIndex;size:64" json:"name"`
	ShortName string    `gorm:"size:128" json:"short_name"`
	Locale    string    `gorm:"size:16" json:"locale"`
	Gender    string    `gorm:"size:16" json:"gender"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Store reads and writes the voice catalog.
type Store struct {
	db               *gorm.DB
	defaultShortName string
	bus              *events.Bus
	logger           zerolog.Logger
}

// NewStore creates a voice store. defaultShortName is used when no voice
// has been selected yet.
func NewStore(database *gorm.DB, defaultShortName string, bus *events.Bus, logger zerolog.Logger) *Store {
	return &Store{
		db:               database,
		defaultShortName: defaultShortName,
		bus:              bus,
		logger:           logger.With().Str("component", "voices").Logger(),
	}
}

// List returns the catalog ordered by alias.
func (s *Store) List(ctx context.Context) ([]Voice, error) {
	var list []Voice
	if err := s.db.WithContext(ctx).Order("name").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	return list, nil
}

// Get looks a voice up by alias.
func (s *Store) Get(ctx context.Context, name string) (Voice, error) {
	var v Voice
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Voice{}, fmt.Errorf("%w: %s", ErrVoiceNotFound, name)
	}
	if err != nil {
		return Voice{}, fmt.Errorf("get voice %s: %w", name, err)
	}
	return v, nil
}

// Current returns the selected voice, falling back to the configured
// default when nothing has been selected.
func (s *Store) Current(ctx context.Context) (Voice, error) {
	var v Voice
	err := s.db.WithContext(ctx).Where("active = ?", true).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Voice{Name: "default", ShortName: s.defaultShortName}, nil
	}
	if err != nil {
		return Voice{}, fmt.Errorf("current voice: %w", err)
	}
	return v, nil
}

// Use selects the named voice for synthesis, deselecting any other.
func (s *Store) Use(ctx context.Context, name string) (Voice, error) {
	var selected Voice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var v Voice
		if err := tx.Where("name = ?", name).First(&v).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrVoiceNotFound, name)
			}
			return err
		}
		if err := tx.Model(&Voice{}).Where("active = ?", true).Update("active", false).Error; err != nil {
			return err
		}
		if err := tx.Model(&v).Update("active", true).Error; err != nil {
			return err
		}
		v.Active = true
		selected = v
		return nil
	})
	if err != nil {
		return Voice{}, err
	}

	s.logger.Info().Str("voice", selected.Name).Str("short_name", selected.ShortName).Msg("voice selected")
	if s.bus != nil {
		s.bus.Publish(events.EventVoiceChanged, events.Payload{
			"voice":      selected.Name,
			"short_name": selected.ShortName,
		})
	}
	return selected, nil
}

// Import upserts catalog entries by alias, never touching the Active flag
// of existing rows.
func (s *Store) Import(ctx context.Context, list []Voice) (int, error) {
	added := 0
	for _, v := range list {
		var existing Voice
		err := s.db.WithContext(ctx).Where("name = ?", v.Name).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := Voice{Name: v.Name, ShortName: v.ShortName, Locale: v.Locale, Gender: v.Gender}
			if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
				return added, fmt.Errorf("create voice %s: %w", v.Name, err)
			}
			added++
		case err != nil:
			return added, fmt.Errorf("lookup voice %s: %w", v.Name, err)
		default:
			updates := map[string]any{
				"short_name": v.ShortName,
				"locale":     v.Locale,
				"gender":     v.Gender,
			}
			if err := s.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
				return added, fmt.Errorf("update voice %s: %w", v.Name, err)
			}
		}
	}
	return added, nil
}

type seedFile struct {
	Voices []Voice `yaml:"voices"`
}

// SeedFromFile loads a YAML catalog and imports it. A missing file is not
// an error; the catalog can also be filled over the API.
func (s *Store) SeedFromFile(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug().Str("path", path).Msg("no voice seed file")
			return nil
		}
		return fmt.Errorf("read voice seed %s: %w", path, err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse voice seed %s: %w", path, err)
	}

	added, err := s.Import(ctx, seed.Voices)
	if err != nil {
		return err
	}
	s.logger.Info().Int("added", added).Int("total", len(seed.Voices)).Str("path", path).Msg("voice catalog seeded")
	return nil
}
