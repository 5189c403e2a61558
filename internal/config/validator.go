package config

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// validDirections matches game.Direction; kept as strings so config stays
// free of game imports.
var validDirections = map[string]bool{
	"": true, "none": true, "north": true, "south": true, "west": true, "east": true,
}

var validInvasionModes = map[string]bool{
	"beachheads": true, "random": true, "none": true,
}

// Validate checks the configuration for errors and warnings.
func (c *Config) Validate() *ValidationResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := &ValidationResult{}

	if c.ServerData.GamePort < 1 || c.ServerData.GamePort > 65535 {
		result.AddError("server_data.game_port", "must be between 1 and 65535")
	}
	if c.ServerData.APIEnabled {
		if c.ServerData.APIPort < 1 || c.ServerData.APIPort > 65535 {
			result.AddError("server_data.api_port", "must be between 1 and 65535")
		}
		if c.ServerData.APIPort == c.ServerData.GamePort {
			result.AddError("server_data.api_port", "must differ from game_port")
		}
	}

	g := c.GameData
	if g.MaxTurns < 1 {
		result.AddError("game_data.max_turns", "must be at least 1")
	}
	if g.TurnSeconds <= 0 {
		result.AddError("game_data.seconds_per_turn", "must be positive")
	}
	if g.InterludeSeconds <= 0 && !g.NoInterludes {
		result.AddError("game_data.seconds_per_interlude", "must be positive unless interludes are disabled")
	}
	if g.InvadersPerTurn < 0 {
		result.AddError("game_data.invaders_per_turn", "must not be negative")
	}
	if !validInvasionModes[g.InvasionMode] {
		result.AddError("game_data.invasion_mode", "must be beachheads, random or none")
	}
	if g.Beachheads < 0 || g.Beachheads > 8 {
		result.AddError("game_data.beachheads", "must be between 0 and 8")
	}
	if g.Beachheads == 0 && g.InvasionMode == "beachheads" {
		result.AddWarning("game_data.beachheads", "no beachheads configured, nothing will invade")
	}
	if g.EmptySectors < 0 || g.EmptySectors > 48 {
		result.AddError("game_data.empty_sectors", "must be between 0 and 48")
	}
	if g.DifficultyLevel < 1 || g.DifficultyLevel > 11 {
		result.AddWarning("game_data.difficulty_level", "outside 1-11, battles will clamp it")
	}
	if !validDirections[g.AvoidDirection] {
		result.AddError("game_data.enemies_avoid_direction", "must be none, north, south, west or east")
	}

	a := c.ApplicationData
	if a.MQTT.Enabled && a.MQTT.BrokerURL == "" {
		result.AddError("application_data.mqtt.broker_url", "required when MQTT is enabled")
	}
	if a.Security.RateLimitRPS <= 0 {
		result.AddWarning("application_data.security.rate_limit_rps", "non-positive, rate limiting disabled")
	}
	if a.Storage.Directory == "" {
		result.AddError("application_data.storage.directory", "must not be empty")
	}
	if a.Storage.AutosaveKeep < 1 {
		result.AddWarning("application_data.storage.autosave_keep", "less than 1, autosaves will not be pruned")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	return result
}
