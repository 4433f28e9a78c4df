// Package session holds per-user presentation state: theme, the last single
// shot and the current storyboard grid. State changes only through the
// methods below.
package session

import (
	"sync"
	"time"

	"lynchvision/internal/director"
	"lynchvision/internal/render"
)

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

type Shot struct {
	Prompt    string
	PNG       []byte
	Aspect    render.AspectRatio
	CreatedAt time.Time
}

type Session struct {
	ID string

	mu        sync.Mutex
	theme     Theme
	aspect    render.AspectRatio
	mode      director.Mode
	lastShot  *Shot
	grid      *GridRun
	createdAt time.Time
	updatedAt time.Time
}

// View is a copy of the session fields, safe to read without locking.
type View struct {
	ID       string
	Theme    Theme
	Aspect   render.AspectRatio
	Mode     director.Mode
	LastShot *Shot
	Grid     *GridRun
}

func newSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		theme:     ThemeLight,
		aspect:    render.AspectSquare,
		mode:      director.ModeShot,
		createdAt: now,
		updatedAt: now,
	}
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		ID:       s.ID,
		Theme:    s.theme,
		Aspect:   s.aspect,
		Mode:     s.mode,
		LastShot: s.lastShot,
		Grid:     s.grid,
	}
}

func (s *Session) ToggleTheme() Theme {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.theme == ThemeDark {
		s.theme = ThemeLight
	} else {
		s.theme = ThemeDark
	}
	s.touchLocked()
	return s.theme
}

func (s *Session) SetAspect(a render.AspectRatio) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aspect = a
	s.touchLocked()
}

func (s *Session) SetMode(m director.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
	s.touchLocked()
}

// SetShot records a finished single shot. It replaces any grid so only
// the latest run's results are shown.
func (s *Session) SetShot(prompt string, png []byte, aspect render.AspectRatio) *Shot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastShot = &Shot{Prompt: prompt, PNG: png, Aspect: aspect, CreatedAt: time.Now()}
	s.grid = nil
	s.touchLocked()
	return s.lastShot
}

func (s *Session) LastShot() *Shot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastShot
}

// StartGrid discards the previous grid and shot and returns the new run.
func (s *Session) StartGrid(total int) *GridRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grid = newGridRun(NewID(), total)
	s.lastShot = nil
	s.touchLocked()
	return s.grid
}

func (s *Session) Grid() *GridRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grid
}

// Clear drops results and keeps preferences.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastShot = nil
	s.grid = nil
	s.touchLocked()
}

func (s *Session) touchLocked() {
	s.updatedAt = time.Now()
}
