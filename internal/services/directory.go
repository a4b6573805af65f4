// Package services – user directory
//
// The messaging core does not own user accounts; the host application does.
// UserDirectory is the narrow lookup the core needs: user id to display
// name, used for {sender_name}/{recipient_name} placeholder rendering and
// the AI context's "[Name]:" prefixes.
package services

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// UserDirectory resolves a user id to a human display name. The boolean
// return reports whether the directory knows the user; callers fall back to
// FallbackDisplayName when it does not.
//
// Implementations must be safe for concurrent use.
type UserDirectory interface {
	DisplayName(ctx context.Context, userID string) (string, bool)
}

// StaticDirectory is a map-backed UserDirectory, convenient for wiring a
// fixed user set (demo deployments, tests). The zero value knows nobody.
type StaticDirectory struct {
	Names map[string]string
}

// DisplayName implements UserDirectory.
func (d StaticDirectory) DisplayName(_ context.Context, userID string) (string, bool) {
	name, ok := d.Names[userID]
	return name, ok && name != ""
}

// titleCaser capitalizes fallback names; ids are ASCII-ish so English rules
// are fine.
var titleCaser = cases.Title(language.English)

// FallbackDisplayName derives a presentable name from a raw user id when no
// directory entry exists: separators become spaces and words are
// title-cased ("jane.doe-42" -> "Jane Doe 42").
func FallbackDisplayName(userID string) string {
	s := strings.TrimSpace(userID)
	if s == "" {
		return ""
	}
	for _, sep := range []string{".", "-", "_"} {
		s = strings.ReplaceAll(s, sep, " ")
	}
	return titleCaser.String(strings.Join(strings.Fields(s), " "))
}

// displayNameOrFallback consults the directory first, then derives a name.
func displayNameOrFallback(ctx context.Context, dir UserDirectory, userID string) string {
	if dir != nil {
		if name, ok := dir.DisplayName(ctx, userID); ok {
			return name
		}
	}
	return FallbackDisplayName(userID)
}
