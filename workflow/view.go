package workflow

import (
	"time"

	"sectional_blog_writer/generator"
)

// SectionStatus is the per-section progress shown while generating.
type SectionStatus string

const (
	SectionPending    SectionStatus = "pending"
	SectionGenerating SectionStatus = "generating"
	SectionDone       SectionStatus = "done"
	SectionFailed     SectionStatus = "failed"
)

type SectionView struct {
	generator.Section
	Status SectionStatus `json:"status"`
	HTML   string        `json:"html,omitempty"`
}

// View is a read-only copy of a session for presentation.
type View struct {
	ID               string                `json:"session_id"`
	Stage            Stage                 `json:"stage"`
	Title            string                `json:"title"`
	Style            generator.StyleConfig `json:"style"`
	Sections         []SectionView         `json:"sections"`
	CurrentSectionID *string               `json:"current_section_id"`
	Editing          *EditBuffer           `json:"editing,omitempty"`
	Completed        bool                  `json:"completed"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// Snapshot copies the session state under the lock.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:        s.ID,
		Stage:     s.stage,
		Title:     s.outline.Title,
		Style:     s.style,
		Sections:  make([]SectionView, 0, len(s.outline.Sections)),
		Completed: s.completed,
		UpdatedAt: s.updatedAt,
	}
	if s.current != "" {
		cur := s.current
		v.CurrentSectionID = &cur
	}
	if s.editing != nil {
		buf := *s.editing
		v.Editing = &buf
	}
	for _, sec := range s.outline.Sections {
		sv := SectionView{Section: sec, Status: SectionPending}
		sv.Points = append([]string(nil), sec.Points...)
		if res, ok := s.results[sec.ID]; ok {
			sv.HTML = res.HTML()
			sv.Status = SectionDone
			if res.Status == ResultFailed {
				sv.Status = SectionFailed
			}
		}
		if sec.ID == s.current {
			sv.Status = SectionGenerating
		}
		v.Sections = append(v.Sections, sv)
	}
	return v
}
