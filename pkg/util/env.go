package util

import (
	"cmp"
	"os"
)

// GetEnvOrDefault returns the value of env, or def when env is unset or empty.
func GetEnvOrDefault(env, def string) string {
	return cmp.Or(os.Getenv(env), def)
}
