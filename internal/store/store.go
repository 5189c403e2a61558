package store

import (
	"bytes"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/rs/zerolog"
	"lukechampine.com/blake3"

	"github.com/warserver-project/warserver/internal/config"
	"github.com/warserver-project/warserver/internal/game"
	"github.com/warserver-project/warserver/internal/util"
)

// saveExtension marks snapshot files on disk.
const saveExtension = ".sav"

// Store persists game snapshots. Snapshots are JSON, lz4-compressed, with a
// blake3 checksum in the file header, plus a catalog row in SQLite.
type Store struct {
	dir          string
	db           *Database
	autosaveKeep int
	scoreHistory bool
	logger       zerolog.Logger
}

// SaveInfo is one catalog entry.
type SaveInfo struct {
	Filename   string    `json:"filename"`
	TurnNumber int       `json:"turn_number"`
	Checksum   string    `json:"checksum"`
	Autosave   bool      `json:"autosave"`
	CreatedAt  time.Time `json:"created_at"`
}

// ScoreRow is one scoreboard history record.
type ScoreRow struct {
	TurnNumber int       `json:"turn_number"`
	ShipName   string    `json:"ship_name"`
	Kills      int       `json:"kills"`
	Clears     int       `json:"clears"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NewStore opens the save directory and catalog database.
func NewStore(cfg config.StorageConfig) (*Store, error) {
	if err := util.EnsureDir(cfg.Directory); err != nil {
		return nil, fmt.Errorf("failed to create save directory %s: %w", cfg.Directory, err)
	}
	db, err := NewDatabase(filepath.Join(cfg.Directory, cfg.DatabaseFile))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{
		dir:          cfg.Directory,
		db:           db,
		autosaveKeep: cfg.AutosaveKeep,
		scoreHistory: cfg.ScoreHistory,
		logger:       util.ComponentLogger("store"),
	}, nil
}

// Close releases the catalog database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveGame writes a snapshot under the given name and catalogs it. The name
// is sanitized to a bare filename; an existing save of the same name is
// replaced.
func (s *Store) SaveGame(name string, snap game.Snapshot, autosave bool) error {
	name = sanitizeName(name)
	if name == "" {
		return fmt.Errorf("empty save name")
	}

	plain, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	var compressed bytes.Buffer
	zw := lz4.NewWriter(&compressed)
	if _, err := zw.Write(plain); err != nil {
		return fmt.Errorf("failed to compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish compression: %w", err)
	}

	sum := blake3.Sum256(compressed.Bytes())
	path := filepath.Join(s.dir, name+saveExtension)

	var file bytes.Buffer
	file.Write(sum[:])
	file.Write(compressed.Bytes())
	if err := os.WriteFile(path, file.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write save file %s: %w", path, err)
	}

	checksum := hex.EncodeToString(sum[:])
	_, err = s.db.Exec(`
		INSERT INTO saves (filename, turn_number, checksum, autosave, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
			turn_number = excluded.turn_number,
			checksum = excluded.checksum,
			autosave = excluded.autosave,
			created_at = excluded.created_at`,
		name, snap.Turn.Number, checksum, boolInt(autosave), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to catalog save %s: %w", name, err)
	}

	s.logger.Info().Str("save", name).Int("turn", snap.Turn.Number).
		Int("bytes", file.Len()).Bool("autosave", autosave).Msg("game saved")

	if autosave {
		s.pruneAutosaves()
	}
	return nil
}

// Autosave persists the end-of-turn snapshot under a timestamped name.
func (s *Store) Autosave(snap game.Snapshot) error {
	name := fmt.Sprintf("_autosave_%s_turn_%d",
		time.Now().Format("20060102-150405"), snap.Turn.Number)
	return s.SaveGame(name, snap, true)
}

// LoadGame reads a save and verifies its checksum before decoding.
func (s *Store) LoadGame(name string) (game.Snapshot, error) {
	var snap game.Snapshot
	name = sanitizeName(name)
	path := filepath.Join(s.dir, name+saveExtension)

	data, err := os.ReadFile(path)
	if err != nil {
		return snap, fmt.Errorf("failed to read save file %s: %w", path, err)
	}
	if len(data) < 32 {
		return snap, fmt.Errorf("save file %s is truncated", path)
	}
	var stored [32]byte
	copy(stored[:], data[:32])
	compressed := data[32:]
	if sum := blake3.Sum256(compressed); sum != stored {
		return snap, fmt.Errorf("save file %s failed checksum verification", path)
	}

	zr := lz4.NewReader(bytes.NewReader(compressed))
	plain, err := io.ReadAll(zr)
	if err != nil {
		return snap, fmt.Errorf("failed to decompress save %s: %w", name, err)
	}
	if err := json.Unmarshal(plain, &snap); err != nil {
		return snap, fmt.Errorf("failed to decode save %s: %w", name, err)
	}

	s.logger.Info().Str("save", name).Int("turn", snap.Turn.Number).Msg("game loaded")
	return snap, nil
}

// ListSaves returns the catalog, newest first.
func (s *Store) ListSaves() ([]SaveInfo, error) {
	rows, err := s.db.Query(`
		SELECT filename, turn_number, checksum, autosave, created_at
		FROM saves ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list saves: %w", err)
	}
	defer rows.Close()

	var saves []SaveInfo
	for rows.Next() {
		var info SaveInfo
		var autosave int
		if err := rows.Scan(&info.Filename, &info.TurnNumber, &info.Checksum, &autosave, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan save row: %w", err)
		}
		info.Autosave = autosave != 0
		saves = append(saves, info)
	}
	return saves, rows.Err()
}

// RecordScores appends the scoreboard for a finished turn to the history.
func (s *Store) RecordScores(turn int, kills, clears map[string]int) error {
	if !s.scoreHistory {
		return nil
	}
	names := make(map[string]bool, len(kills)+len(clears))
	for name := range kills {
		names[name] = true
	}
	for name := range clears {
		names[name] = true
	}
	if len(names) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO score_history (turn_number, ship_name, kills, clears, recorded_at)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare score insert: %w", err)
		}
		defer stmt.Close()
		now := time.Now().UTC()
		for name := range names {
			if _, err := stmt.Exec(turn, name, kills[name], clears[name], now); err != nil {
				return fmt.Errorf("failed to record score for %s: %w", name, err)
			}
		}
		return nil
	})
}

// ScoreHistory returns the recorded scoreboard rows for a turn, or all
// turns when turn is negative.
func (s *Store) ScoreHistory(turn int) ([]ScoreRow, error) {
	query := `SELECT turn_number, ship_name, kills, clears, recorded_at
		FROM score_history`
	var args []interface{}
	if turn >= 0 {
		query += ` WHERE turn_number = ?`
		args = append(args, turn)
	}
	query += ` ORDER BY turn_number, ship_name`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query score history: %w", err)
	}
	defer rows.Close()

	var out []ScoreRow
	for rows.Next() {
		var r ScoreRow
		if err := rows.Scan(&r.TurnNumber, &r.ShipName, &r.Kills, &r.Clears, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan score row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// pruneAutosaves deletes the oldest autosaves past the retention count.
// Failures are logged only; pruning is best-effort.
func (s *Store) pruneAutosaves() {
	if s.autosaveKeep < 1 {
		return
	}
	rows, err := s.db.Query(`
		SELECT filename FROM saves WHERE autosave = 1
		ORDER BY created_at DESC LIMIT -1 OFFSET ?`, s.autosaveKeep)
	if err != nil {
		s.logger.Warn().Err(err).Msg("autosave prune query failed")
		return
	}
	var stale []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			stale = append(stale, name)
		}
	}
	rows.Close()

	for _, name := range stale {
		os.Remove(filepath.Join(s.dir, name+saveExtension))
		if _, err := s.db.Exec(`DELETE FROM saves WHERE filename = ?`, name); err != nil {
			s.logger.Warn().Err(err).Str("save", name).Msg("failed to prune autosave")
			continue
		}
		s.logger.Debug().Str("save", name).Msg("pruned old autosave")
	}
}

// sanitizeName strips path components so save names stay inside the save
// directory.
func sanitizeName(name string) string {
	name = strings.TrimSuffix(name, saveExtension)
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
