// Package util provides small shared helpers: log level management, outbound
// proxy transports, and miscellaneous string utilities.
package util

import (
	log "github.com/sirupsen/logrus"
)

// SetLogLevel adjusts the global logrus level according to the debug flag.
//
// Parameters:
//   - debug: When true, enables debug-level logging
func SetLogLevel(debug bool) {
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// InArray reports whether needle is present in haystack.
func InArray(haystack []string, needle string) bool {
	for _, item := range haystack {
		if item == needle {
			return true
		}
	}
	return false
}

// HideAPIKey masks the middle of a secret for log output. Short keys are
// fully masked.
func HideAPIKey(key string) string {
	if len(key) <= 8 {
		return "********"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
