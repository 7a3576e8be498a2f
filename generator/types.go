package generator

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput       = errors.New("context or url is required")
	ErrInvalidStyle     = errors.New("invalid style config")
	ErrInvalidMode      = errors.New("invalid rewrite mode")
	ErrMalformedOutline = errors.New("model returned a malformed outline")
	ErrEmptyResponse    = errors.New("model returned empty content")
	ErrEmptyReplacement = errors.New("model returned an empty replacement")
)

// Section is one heading plus its supporting points; the unit of generation.
type Section struct {
	ID      string   `json:"id"`
	Heading string   `json:"heading"`
	Points  []string `json:"points"`
}

// Outline is the ordered plan a post is generated from.
type Outline struct {
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
}

// Clone returns a deep copy so callers can iterate without holding locks.
func (o Outline) Clone() Outline {
	out := Outline{Title: o.Title, Sections: make([]Section, len(o.Sections))}
	for i, s := range o.Sections {
		s.Points = append([]string(nil), s.Points...)
		out.Sections[i] = s
	}
	return out
}

// Index returns the position of the section with the given id, or -1.
func (o Outline) Index(id string) int {
	for i, s := range o.Sections {
		if s.ID == id {
			return i
		}
	}
	return -1
}

type Tone string

const (
	ToneProfessional  Tone = "professional"
	ToneCasual        Tone = "casual"
	ToneFriendly      Tone = "friendly"
	ToneAuthoritative Tone = "authoritative"
	ToneHumorous      Tone = "humorous"
)

type Audience string

const (
	AudienceGeneral    Audience = "general"
	AudienceBeginners  Audience = "beginners"
	AudienceDevelopers Audience = "developers"
	AudienceExperts    Audience = "experts"
	AudienceExecutives Audience = "executives"
)

type Length string

const (
	LengthShort  Length = "short"
	LengthMedium Length = "medium"
	LengthLong   Length = "long"
)

// StyleConfig is passed unchanged to every generation call of one outline.
type StyleConfig struct {
	Tone     Tone     `json:"tone"`
	Audience Audience `json:"audience"`
	Length   Length   `json:"length"`
}

// DefaultStyle is used for any field left blank.
func DefaultStyle() StyleConfig {
	return StyleConfig{Tone: ToneProfessional, Audience: AudienceGeneral, Length: LengthMedium}
}

// Normalize fills blank fields with defaults and validates the rest.
func (s StyleConfig) Normalize() (StyleConfig, error) {
	def := DefaultStyle()
	if s.Tone == "" {
		s.Tone = def.Tone
	}
	if s.Audience == "" {
		s.Audience = def.Audience
	}
	if s.Length == "" {
		s.Length = def.Length
	}
	switch s.Tone {
	case ToneProfessional, ToneCasual, ToneFriendly, ToneAuthoritative, ToneHumorous:
	default:
		return StyleConfig{}, fmt.Errorf("%w: tone %q", ErrInvalidStyle, s.Tone)
	}
	switch s.Audience {
	case AudienceGeneral, AudienceBeginners, AudienceDevelopers, AudienceExperts, AudienceExecutives:
	default:
		return StyleConfig{}, fmt.Errorf("%w: audience %q", ErrInvalidStyle, s.Audience)
	}
	switch s.Length {
	case LengthShort, LengthMedium, LengthLong:
	default:
		return StyleConfig{}, fmt.Errorf("%w: length %q", ErrInvalidStyle, s.Length)
	}
	return s, nil
}

// SectionWords is the rough per-section word target for a length.
func (l Length) SectionWords() int {
	switch l {
	case LengthShort:
		return 150
	case LengthLong:
		return 500
	default:
		return 300
	}
}

// OutlineRequest is the input of generate-outline.
type OutlineRequest struct {
	Context string      `json:"context"`
	URL     string      `json:"url"`
	Style   StyleConfig `json:"style"`
}

// SectionRequest is the input of generate-section.
type SectionRequest struct {
	SectionID string      `json:"section_id"`
	Heading   string      `json:"section_heading"`
	Points    []string    `json:"section_points"`
	BlogTitle string      `json:"blog_title"`
	Style     StyleConfig `json:"style"`
}

type RewriteMode string

const (
	ModeFormat     RewriteMode = "format"
	ModeRewrite    RewriteMode = "rewrite"
	ModeImprove    RewriteMode = "improve"
	ModeShorten    RewriteMode = "shorten"
	ModeExpand     RewriteMode = "expand"
	ModeFixGrammar RewriteMode = "fix-grammar"
)

// Valid reports whether m is a known style tool.
func (m RewriteMode) Valid() bool {
	switch m {
	case ModeFormat, ModeRewrite, ModeImprove, ModeShorten, ModeExpand, ModeFixGrammar:
		return true
	}
	return false
}

// RewriteRequest is the input of the format/rewrite style tools.
type RewriteRequest struct {
	Mode    RewriteMode `json:"mode"`
	Text    string      `json:"text"`
	Context string      `json:"context"`
}
