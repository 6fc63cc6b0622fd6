package behavior

import (
	"sync"

	"github.com/rs/zerolog"
)

// Source serves the currently loaded blocks. Reload swaps the pack set
// atomically, so readers mid-turn keep a consistent view.
type Source struct {
	dir    string
	loader *Loader
	log    zerolog.Logger

	mu    sync.RWMutex
	packs []Pack
}

// NewSource creates a Source over dir. Call Reload to populate it.
func NewSource(dir string, loader *Loader, log zerolog.Logger) *Source {
	return &Source{
		dir:    dir,
		loader: loader,
		log:    log.With().Str("component", "behavior").Logger(),
	}
}

// Reload re-reads every manifest under the source directory.
func (s *Source) Reload() error {
	packs, err := s.loader.LoadDir(s.dir)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.packs = packs
	s.mu.Unlock()
	s.log.Info().Int("packs", len(packs)).Msg("behavior packs loaded")
	return nil
}

// Blocks returns every active block in pack priority order.
func (s *Source) Blocks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, pack := range s.packs {
		out = append(out, pack.Blocks...)
	}
	return out
}

// Packs returns a snapshot of the loaded packs.
func (s *Source) Packs() []Pack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Pack, len(s.packs))
	copy(out, s.packs)
	return out
}
