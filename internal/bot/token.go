package bot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// tokenPattern matches "<numeric bot id>:<secret>"
var tokenPattern = regexp.MustCompile(`^([0-9]+):([A-Za-z0-9_-]+)$`)

const minSecretLength = 30

// ValidateToken validates the Bot API token format
func ValidateToken(token string) error {
	if token == "" {
		return fmt.Errorf("bot token is empty")
	}

	if strings.TrimSpace(token) != token {
		return fmt.Errorf("token format appears invalid (surrounding whitespace)")
	}

	if !strings.Contains(token, ":") {
		return fmt.Errorf("token format appears invalid (missing ':' separator)")
	}

	parts := tokenPattern.FindStringSubmatch(token)
	if parts == nil {
		return fmt.Errorf("token format appears invalid (expected <bot id>:<secret>)")
	}

	if len(parts[2]) < minSecretLength {
		return fmt.Errorf("token appears to be too short (expected a secret of at least %d characters)", minSecretLength)
	}

	return nil
}

// ParseBotID extracts the numeric bot id from a token
func ParseBotID(token string) (int64, error) {
	if err := ValidateToken(token); err != nil {
		return 0, err
	}

	id, err := strconv.ParseInt(tokenPattern.FindStringSubmatch(token)[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("token bot id is out of range: %w", err)
	}
	return id, nil
}
