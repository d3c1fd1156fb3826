package config

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrConfigurationFatal means the process must not start serving.
var ErrConfigurationFatal = errors.New("fatal configuration error")

// PlaceholderJWTSecret is the value shipped in example env files.
const PlaceholderJWTSecret = "CHANGE-ME-IN-PRODUCTION"

const minJWTSecretLen = 16

// ValidateJWTSecret rejects a short or placeholder signing secret.  In
// debug mode the problem is only logged.
func ValidateJWTSecret(secret string, debug bool, log *zap.Logger) error {
	var problem string
	switch {
	case secret == PlaceholderJWTSecret:
		problem = "JWT_SECRET is the example placeholder"
	case len(secret) < minJWTSecretLen:
		problem = fmt.Sprintf("JWT_SECRET is shorter than %d bytes", minJWTSecretLen)
	default:
		return nil
	}
	if debug {
		if log != nil {
			log.Warn("insecure JWT secret accepted in debug mode", zap.String("problem", problem))
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrConfigurationFatal, problem)
}
