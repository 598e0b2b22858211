package config

import (
	"os"
	"strings"
)

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// StrictInvestigationLock makes a failed redis lock abort the mutation.
// By default the lock is best-effort and the version check is the real guard.
//
// Set via env:
// - STRICT_INVESTIGATION_LOCK=true
func StrictInvestigationLock() bool {
	return envBool("STRICT_INVESTIGATION_LOCK")
}

// SkipMigrations disables AutoMigrate on server startup (run `fieldcheck migrate` instead).
//
// Set via env:
// - SKIP_MIGRATIONS=true
func SkipMigrations() bool {
	return envBool("SKIP_MIGRATIONS")
}

// OutboxEnabled reports whether the dispatcher has somewhere to publish.
func OutboxEnabled() bool {
	return strings.TrimSpace(os.Getenv("PUBSUB_TOPIC")) != ""
}

// PhoneRegion is the default region used to parse phone numbers without a country prefix.
//
// Set via env:
// - PHONE_REGION=GT
func PhoneRegion() string {
	v := strings.ToUpper(strings.TrimSpace(os.Getenv("PHONE_REGION")))
	if v == "" {
		return "GT"
	}
	return v
}
