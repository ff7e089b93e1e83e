package lesson

import (
	"errors"
	"fmt"
	"strings"
)

const (
	LanguageEnglish = "English"
	LanguageTamil   = "Tamil"
	LanguageHindi   = "Hindi"
)

const (
	ToneConceptual = "Concept Focused (Conceptual)"
	ToneExam       = "Exam Oriented (Fast Paced)"
	ToneStory      = "Story Driven (Engaging)"
)

const (
	AvatarSarah  = "sarah"
	AvatarMike   = "mike"
	AvatarCustom = "custom"
)

var (
	Languages = []string{LanguageEnglish, LanguageTamil, LanguageHindi}
	Tones     = []string{ToneConceptual, ToneExam, ToneStory}
	Avatars   = []string{AvatarSarah, AvatarMike, AvatarCustom}
)

var ErrInvalidPreferences = errors.New("invalid lesson preferences")

// Preferences personalise a generated lesson. They are session-local and
// never persisted.
type Preferences struct {
	TeacherName string `json:"teacher_name"`
	AvatarID    string `json:"avatar_id"`
	Language    string `json:"language"`
	Tone        string `json:"tone"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		TeacherName: "Mrs. Sarah",
		AvatarID:    AvatarSarah,
		Language:    LanguageEnglish,
		Tone:        ToneConceptual,
	}
}

func (p Preferences) Validate() error {
	if strings.TrimSpace(p.TeacherName) == "" {
		return fmt.Errorf("%w: teacher name is required", ErrInvalidPreferences)
	}
	if !oneOf(p.Language, Languages) {
		return fmt.Errorf("%w: language %q (want one of %s)", ErrInvalidPreferences, p.Language, strings.Join(Languages, ", "))
	}
	if !oneOf(p.Tone, Tones) {
		return fmt.Errorf("%w: tone %q", ErrInvalidPreferences, p.Tone)
	}
	if !oneOf(p.AvatarID, Avatars) {
		return fmt.Errorf("%w: avatar %q", ErrInvalidPreferences, p.AvatarID)
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
