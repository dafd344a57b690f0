package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"league-platform/internal/config"
	"league-platform/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PlayerRow mirrors a PlayerRecord in the database. List-valued fields are
// serialized to JSON strings.
type PlayerRow struct {
	ID            string `gorm:"primaryKey"`
	DisplayName   string
	Endpoint      string
	GameTypes     string // JSON array
	AuthToken     string
	Status        string
	Wins          int
	Losses        int
	Draws         int
	Points        int
	MatchesPlayed int
	RegisteredAt  time.Time
}

// RefereeRow mirrors a RefereeRecord.
type RefereeRow struct {
	ID                   string `gorm:"primaryKey"`
	DisplayName          string
	Endpoint             string
	GameTypes            string // JSON array
	AuthToken            string
	MaxConcurrentMatches int
	CurrentLoad          int
	RegisteredAt         time.Time
}

// MatchRow mirrors a Match.
type MatchRow struct {
	ID              string `gorm:"primaryKey"`
	RoundID         string `gorm:"index"`
	PlayerA         string
	PlayerB         string
	GameType        string
	AssignedReferee string
	State           string
}

// ResultRow mirrors a MatchResult; history is a JSON string.
type ResultRow struct {
	MatchID       string `gorm:"primaryKey"`
	RoundID       string `gorm:"index"`
	WinnerID      string
	ScoreA        int
	ScoreB        int
	History       string // JSON array
	ForfeitReason string
	ReportedAt    time.Time
}

// StandingsSnapshotRow is one standings table frozen after a round.
type StandingsSnapshotRow struct {
	RoundID   string `gorm:"primaryKey"`
	Rows      string // JSON array
	UpdatedAt time.Time
}

// Gorm is the database-backed Store. SQLite (file or :memory:) serves
// tests and demos; MySQL serves deployments, like the teacher platform.
type Gorm struct {
	db *gorm.DB
}

// NewGorm opens the configured database and migrates the schema.
func NewGorm(cfg config.DBConfig) (*Gorm, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
		dialector = mysql.Open(dsn)
	default:
		dialector = sqlite.Open(cfg.Path)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&PlayerRow{}, &RefereeRow{}, &MatchRow{}, &ResultRow{}, &StandingsSnapshotRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Gorm{db: db}, nil
}

func (g *Gorm) PutPlayer(p *models.PlayerRecord) error {
	gameTypes, _ := json.Marshal(p.SupportedGameTypes)
	row := PlayerRow{
		ID:            p.ID,
		DisplayName:   p.DisplayName,
		Endpoint:      p.Endpoint,
		GameTypes:     string(gameTypes),
		AuthToken:     p.AuthToken,
		Status:        string(p.Status),
		Wins:          p.Wins,
		Losses:        p.Losses,
		Draws:         p.Draws,
		Points:        p.Points,
		MatchesPlayed: p.MatchesPlayed,
		RegisteredAt:  p.RegisteredAt,
	}
	return g.db.Save(&row).Error
}

func (g *Gorm) GetPlayer(id string) (*models.PlayerRecord, error) {
	var row PlayerRow
	if err := g.db.Where("id = ?", id).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return playerFromRow(&row), nil
}

func (g *Gorm) ListPlayers() ([]*models.PlayerRecord, error) {
	var rows []PlayerRow
	if err := g.db.Order("registered_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*models.PlayerRecord, len(rows))
	for i := range rows {
		out[i] = playerFromRow(&rows[i])
	}
	return out, nil
}

func playerFromRow(row *PlayerRow) *models.PlayerRecord {
	var gameTypes []string
	json.Unmarshal([]byte(row.GameTypes), &gameTypes)
	return &models.PlayerRecord{
		ID:                 row.ID,
		DisplayName:        row.DisplayName,
		Endpoint:           row.Endpoint,
		SupportedGameTypes: gameTypes,
		AuthToken:          row.AuthToken,
		Status:             models.PlayerStatus(row.Status),
		Wins:               row.Wins,
		Losses:             row.Losses,
		Draws:              row.Draws,
		Points:             row.Points,
		MatchesPlayed:      row.MatchesPlayed,
		RegisteredAt:       row.RegisteredAt,
	}
}

func (g *Gorm) PutReferee(r *models.RefereeRecord) error {
	gameTypes, _ := json.Marshal(r.SupportedGameTypes)
	row := RefereeRow{
		ID:                   r.ID,
		DisplayName:          r.DisplayName,
		Endpoint:             r.Endpoint,
		GameTypes:            string(gameTypes),
		AuthToken:            r.AuthToken,
		MaxConcurrentMatches: r.MaxConcurrentMatches,
		CurrentLoad:          r.CurrentLoad,
		RegisteredAt:         r.RegisteredAt,
	}
	return g.db.Save(&row).Error
}

func (g *Gorm) GetReferee(id string) (*models.RefereeRecord, error) {
	var row RefereeRow
	if err := g.db.Where("id = ?", id).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return refereeFromRow(&row), nil
}

func (g *Gorm) ListReferees() ([]*models.RefereeRecord, error) {
	var rows []RefereeRow
	if err := g.db.Order("registered_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*models.RefereeRecord, len(rows))
	for i := range rows {
		out[i] = refereeFromRow(&rows[i])
	}
	return out, nil
}

func refereeFromRow(row *RefereeRow) *models.RefereeRecord {
	var gameTypes []string
	json.Unmarshal([]byte(row.GameTypes), &gameTypes)
	return &models.RefereeRecord{
		ID:                   row.ID,
		DisplayName:          row.DisplayName,
		Endpoint:             row.Endpoint,
		SupportedGameTypes:   gameTypes,
		AuthToken:            row.AuthToken,
		MaxConcurrentMatches: row.MaxConcurrentMatches,
		CurrentLoad:          row.CurrentLoad,
		RegisteredAt:         row.RegisteredAt,
	}
}

func (g *Gorm) PutMatch(m *models.Match) error {
	row := MatchRow{
		ID:              m.ID,
		RoundID:         m.RoundID,
		PlayerA:         m.PlayerA,
		PlayerB:         m.PlayerB,
		GameType:        m.GameType,
		AssignedReferee: m.AssignedReferee,
		State:           string(m.State),
	}
	return g.db.Save(&row).Error
}

func (g *Gorm) GetMatch(id string) (*models.Match, error) {
	var row MatchRow
	if err := g.db.Where("id = ?", id).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &models.Match{
		ID:              row.ID,
		RoundID:         row.RoundID,
		PlayerA:         row.PlayerA,
		PlayerB:         row.PlayerB,
		GameType:        row.GameType,
		AssignedReferee: row.AssignedReferee,
		State:           models.MatchState(row.State),
	}, nil
}

func (g *Gorm) PutResult(r *models.MatchResult) error {
	history, _ := json.Marshal(r.History)
	row := ResultRow{
		MatchID:       r.MatchID,
		RoundID:       r.RoundID,
		WinnerID:      r.WinnerID,
		ScoreA:        r.ScoreA,
		ScoreB:        r.ScoreB,
		History:       string(history),
		ForfeitReason: r.ForfeitReason,
		ReportedAt:    r.ReportedAt,
	}
	return g.db.Save(&row).Error
}

func (g *Gorm) GetResult(matchID string) (*models.MatchResult, error) {
	var row ResultRow
	if err := g.db.Where("match_id = ?", matchID).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var history []models.GameRound
	json.Unmarshal([]byte(row.History), &history)
	return &models.MatchResult{
		MatchID:       row.MatchID,
		RoundID:       row.RoundID,
		WinnerID:      row.WinnerID,
		ScoreA:        row.ScoreA,
		ScoreB:        row.ScoreB,
		History:       history,
		ForfeitReason: row.ForfeitReason,
		ReportedAt:    row.ReportedAt,
	}, nil
}

func (g *Gorm) PutStandings(roundID string, rows []models.StandingsRow) error {
	data, _ := json.Marshal(rows)
	row := StandingsSnapshotRow{
		RoundID:   roundID,
		Rows:      string(data),
		UpdatedAt: time.Now().UTC(),
	}
	return g.db.Save(&row).Error
}

func (g *Gorm) GetStandings(roundID string) ([]models.StandingsRow, error) {
	var row StandingsSnapshotRow
	if err := g.db.Where("round_id = ?", roundID).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rows []models.StandingsRow
	if err := json.Unmarshal([]byte(row.Rows), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
