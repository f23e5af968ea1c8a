package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cameroncuttingedge/battleship/game"
	"github.com/cameroncuttingedge/battleship/models"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type matchPrimaryRow struct {
	MatchID         string `gorm:"primaryKey"`
	Creator         string
	Status          string `gorm:"index"`
	Players         datatypes.JSON
	CurrentTurn     string
	TurnStartedAt   *time.Time
	Boards          datatypes.JSON
	Winner          string
	EndReason       string
	EndedAt         *time.Time
	ContractMatchID string
	MatchAddress    string
	CreatedAt       time.Time
	LastActivityAt  time.Time
}

func (matchPrimaryRow) TableName() string { return "match_primary" }

type matchSecondaryRow struct {
	MatchID        string `gorm:"primaryKey"`
	MatchStartedAt *time.Time
	Shots          datatypes.JSON
}

func (matchSecondaryRow) TableName() string { return "match_secondary" }

// PostgresStore keeps each match as one row in match_primary and one in
// match_secondary, upserted in the same transaction.
type PostgresStore struct {
	DB *gorm.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL required for postgres store")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return NewPostgresStoreFromDB(db)
}

// NewPostgresStoreFromDB migrates the match tables on an open connection.
func NewPostgresStoreFromDB(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&matchPrimaryRow{}, &matchSecondaryRow{}); err != nil {
		return nil, fmt.Errorf("migrate match tables: %w", err)
	}
	log.Info().Msg("Postgres match store ready")
	return &PostgresStore{DB: db}, nil
}

func (s *PostgresStore) Load(ctx context.Context, matchID string) (*models.Match, error) {
	var pr matchPrimaryRow
	var sr matchSecondaryRow
	// Both rows come from one snapshot so a concurrent Save is seen whole or not at all.
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&pr, "match_id = ?", matchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load match %s: %w", matchID, err)
		}
		if err := tx.First(&sr, "match_id = ?", matchID).Error; err != nil &&
			!errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load match history %s: %w", matchID, err)
		}
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}

	p := Primary{
		MatchID:         pr.MatchID,
		Creator:         pr.Creator,
		Status:          models.Status(pr.Status),
		CurrentTurn:     pr.CurrentTurn,
		TurnStartedAt:   pr.TurnStartedAt,
		Winner:          pr.Winner,
		EndReason:       models.EndReason(pr.EndReason),
		EndedAt:         pr.EndedAt,
		ContractMatchID: pr.ContractMatchID,
		MatchAddress:    pr.MatchAddress,
		CreatedAt:       pr.CreatedAt,
		LastActivityAt:  pr.LastActivityAt,
	}
	if err := unmarshalColumn(pr.Players, &p.Players); err != nil {
		return nil, fmt.Errorf("decode players: %w", err)
	}
	p.Boards = make(map[string]*game.Board)
	if err := unmarshalColumn(pr.Boards, &p.Boards); err != nil {
		return nil, fmt.Errorf("decode boards: %w", err)
	}

	sec := Secondary{MatchStartedAt: sr.MatchStartedAt}
	if err := unmarshalColumn(sr.Shots, &sec.Shots); err != nil {
		return nil, fmt.Errorf("decode shots: %w", err)
	}
	return Join(p, sec), nil
}

func (s *PostgresStore) Save(ctx context.Context, m *models.Match) error {
	p, sec := Split(m)

	players, err := json.Marshal(p.Players)
	if err != nil {
		return fmt.Errorf("encode players: %w", err)
	}
	boards, err := json.Marshal(p.Boards)
	if err != nil {
		return fmt.Errorf("encode boards: %w", err)
	}
	shots, err := json.Marshal(sec.Shots)
	if err != nil {
		return fmt.Errorf("encode shots: %w", err)
	}

	pr := matchPrimaryRow{
		MatchID:         p.MatchID,
		Creator:         p.Creator,
		Status:          string(p.Status),
		Players:         datatypes.JSON(players),
		CurrentTurn:     p.CurrentTurn,
		TurnStartedAt:   p.TurnStartedAt,
		Boards:          datatypes.JSON(boards),
		Winner:          p.Winner,
		EndReason:       string(p.EndReason),
		EndedAt:         p.EndedAt,
		ContractMatchID: p.ContractMatchID,
		MatchAddress:    p.MatchAddress,
		CreatedAt:       p.CreatedAt,
		LastActivityAt:  p.LastActivityAt,
	}
	sr := matchSecondaryRow{
		MatchID:        p.MatchID,
		MatchStartedAt: sec.MatchStartedAt,
		Shots:          datatypes.JSON(shots),
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&pr).Error; err != nil {
			return fmt.Errorf("upsert match_primary %s: %w", m.ID, err)
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&sr).Error; err != nil {
			return fmt.Errorf("upsert match_secondary %s: %w", m.ID, err)
		}
		return nil
	})
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func unmarshalColumn(col datatypes.JSON, out interface{}) error {
	if len(col) == 0 {
		return nil
	}
	return json.Unmarshal(col, out)
}
