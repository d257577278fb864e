// Package config reads service settings from the environment and, when
// CONFIG_FILE is set, from a config file (any format viper understands).
// Environment variables always win over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	once sync.Once
	v    *viper.Viper
)

func source() *viper.Viper {
	once.Do(func() {
		v = newViper(os.Getenv("CONFIG_FILE"))
	})
	return v
}

func newViper(file string) *viper.Viper {
	vp := viper.New()
	vp.AutomaticEnv()
	if file != "" {
		vp.SetConfigFile(file)
		// A missing or unreadable file falls back to env-only configuration.
		_ = vp.ReadInConfig()
	}
	return vp
}

func String(key, fallback string) string {
	s := strings.TrimSpace(source().GetString(key))
	if s == "" {
		return fallback
	}
	return s
}

func RequiredString(key string) (string, error) {
	s := String(key, "")
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

func Port(key, fallback string) (string, error) {
	s := String(key, fallback)
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("%s must be a valid TCP port (got %q)", key, s)
	}
	return s, nil
}

// Int returns the integer value of key, or fallback when unset or not a
// positive integer.
func Int(key string, fallback int) int {
	n, err := strconv.Atoi(String(key, ""))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// Minutes reads key as a whole number of minutes.
func Minutes(key string, fallback time.Duration) time.Duration {
	n, err := strconv.Atoi(String(key, ""))
	if err != nil || n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Minute
}

// Seconds reads key as a whole number of seconds.
func Seconds(key string, fallback time.Duration) time.Duration {
	n, err := strconv.Atoi(String(key, ""))
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

func Bool(key string, fallback bool) bool {
	switch strings.ToLower(String(key, "")) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

// List splits a comma separated value, dropping empty items.
func List(key, fallback string) []string {
	raw := String(key, fallback)
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
