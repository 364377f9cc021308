package utils

import (
	"fmt"
	"os"
	"strconv"
)

func GetEnvOrDefault(env, defaultVal string) string {
	e := os.Getenv(env)
	if e == "" {
		return defaultVal
	} else {
		return e
	}
}

func GetEnvOrDefaultInt(env string, defaultVal int64) (int64, error) {
	e := os.Getenv(env)
	if e == "" {
		return defaultVal, nil
	}
	intVal, err := strconv.ParseInt(e, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse env %s=%q as int: %w", env, e, err)
	}
	return intVal, nil
}

// GetEnvOrDefaultBool treats "1" and anything strconv.ParseBool accepts as true.
func GetEnvOrDefaultBool(env string, defaultVal bool) (bool, error) {
	e := os.Getenv(env)
	if e == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(e)
	if err != nil {
		return false, fmt.Errorf("failed to parse env %s=%q as bool: %w", env, e, err)
	}
	return b, nil
}
