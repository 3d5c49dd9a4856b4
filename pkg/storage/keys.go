package storage

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Slug lowercases name and collapses anything that is not a letter or digit into "-".
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "persona"
	}
	return s
}

// PersonaPrefix is the key prefix holding every object owned by a persona.
func PersonaPrefix(name string) string {
	return Slug(name) + "/"
}

// PostImageKey is unique per call so a persona can own many post images.
func PostImageKey(name string) string {
	return PersonaPrefix(name) + "posts/" + uuid.NewString() + ".jpg"
}

// ProfileImageKey is stable so regenerating a profile image overwrites it.
func ProfileImageKey(name string) string {
	return PersonaPrefix(name) + "profile.jpg"
}
