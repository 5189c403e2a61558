// Package config handles configuration loading, validation, and persistence
// for the war server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultGamePort   = 3000
	DefaultAPIPort    = 8080
)

// Config is the root configuration structure. Access goes through the
// getter/setter pairs, which copy; the raw fields are exported only for
// JSON round-tripping.
type Config struct {
	mu   sync.RWMutex
	path string

	ServerData      ServerData      `json:"server_data"`
	GameData        GameData        `json:"game_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// ServerData configures the network surfaces.
type ServerData struct {
	BindAddress string `json:"bind_address"`
	GamePort    int    `json:"game_port"`
	APIPort     int    `json:"api_port"`
	APIEnabled  bool   `json:"api_enabled"`
	CLIEnabled  bool   `json:"cli_enabled"`
}

// GameData configures a fresh war: generation parameters and the runtime
// ruleset clients play under.
type GameData struct {
	MaxTurns            int     `json:"max_turns"`
	TurnSeconds         float64 `json:"seconds_per_turn"`
	InterludeSeconds    float64 `json:"seconds_per_interlude"`
	DifficultyLevel     int     `json:"difficulty_level"`
	InvadersPerTurn     int     `json:"invaders_per_turn"`
	InvasionMode        string  `json:"invasion_mode"`
	Beachheads          int     `json:"beachheads"`
	EmptySectors        int     `json:"empty_sectors"`
	RandomizeBeachheads bool    `json:"randomize_beachheads"`
	OffByOneFix         bool    `json:"beachhead_offbyone_fix"`
	WarmupPasses        int     `json:"warmup_passes"`
	AvoidDirection      string  `json:"enemies_avoid_direction"`
	NonReentrantSectors bool    `json:"non_reentrant_sectors"`
	FogOfWar            bool    `json:"fog_of_war"`
	NoInterludes        bool    `json:"no_interludes"`
	InfiniteGame        bool    `json:"infinite_game"`
	Seed                int64   `json:"seed"`
}

// ApplicationData configures the ambient subsystems.
type ApplicationData struct {
	Storage  StorageConfig  `json:"storage"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// StorageConfig holds save-game persistence settings.
type StorageConfig struct {
	Directory     string `json:"directory"`
	DatabaseFile  string `json:"database_file"`
	AutosaveKeep  int    `json:"autosave_keep"`
	ScoreHistory  bool   `json:"score_history"`
}

// MQTTConfig holds telemetry broker settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	ClientID  string `json:"client_id"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
}

// SecurityConfig holds admin API protection settings.
type SecurityConfig struct {
	RateLimitRPS   float64  `json:"rate_limit_rps"`
	RateLimitBurst int      `json:"rate_limit_burst"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level         string `json:"level"`
	Directory     string `json:"directory"`
	RetentionDays int    `json:"retention_days"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServerData: ServerData{
			BindAddress: "0.0.0.0",
			GamePort:    DefaultGamePort,
			APIPort:     DefaultAPIPort,
			APIEnabled:  true,
			CLIEnabled:  true,
		},
		GameData: GameData{
			MaxTurns:            40,
			TurnSeconds:         480,
			InterludeSeconds:    120,
			DifficultyLevel:     5,
			InvadersPerTurn:     40,
			InvasionMode:        "beachheads",
			Beachheads:          3,
			EmptySectors:        6,
			OffByOneFix:         true,
			WarmupPasses:        6,
			AvoidDirection:      "north",
			NonReentrantSectors: true,
			FogOfWar:            false,
		},
		ApplicationData: ApplicationData{
			Storage: StorageConfig{
				Directory:    "saves",
				DatabaseFile: "warserver.db",
				AutosaveKeep: 10,
				ScoreHistory: true,
			},
			MQTT: MQTTConfig{
				Enabled: false,
				Port:    8883,
				UseTLS:  true,
			},
			Security: SecurityConfig{
				RateLimitRPS:   20,
				RateLimitBurst: 40,
			},
			Logging: LoggingConfig{
				Level:         "info",
				Directory:     "logs",
				RetentionDays: 14,
			},
		},
	}
}

// Load reads the configuration: defaults first, then the JSON file layered
// on top, then environment overrides. A missing file is created with the
// defaults so first runs leave a template behind.
func Load(configDir string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg(".env file loaded")
	}
	if env := os.Getenv("WARSERVER_CONFIG_DIR"); env != "" {
		configDir = env
	}
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			cfg.applyEnv()
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	cfg.path = configPath
	cfg.applyEnv()
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save to persist any new default fields added in code updates.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}
	return cfg, nil
}

// applyEnv applies the few overrides supported via environment variables.
func (c *Config) applyEnv() {
	if port := os.Getenv("WARSERVER_PORT"); port != "" {
		if _, err := fmt.Sscanf(port, "%d", &c.ServerData.GamePort); err != nil {
			log.Warn().Str("value", port).Msg("ignoring invalid WARSERVER_PORT")
		}
	}
	if level := os.Getenv("WARSERVER_LOG_LEVEL"); level != "" {
		c.ApplicationData.Logging.Level = level
	}
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServerData returns a copy of the network configuration.
func (c *Config) GetServerData() ServerData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerData
}

// GetGameData returns a copy of the game configuration.
func (c *Config) GetGameData() GameData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.GameData
}

// GetApplicationData returns a copy of the application configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetGameData updates the game configuration.
func (c *Config) SetGameData(data GameData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.GameData = data
}

// GameAddr returns the "host:port" the UDP listener binds.
func (c *Config) GameAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.ServerData.BindAddress, c.ServerData.GamePort)
}

// APIAddr returns the "host:port" the admin API binds.
func (c *Config) APIAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.ServerData.BindAddress, c.ServerData.APIPort)
}
