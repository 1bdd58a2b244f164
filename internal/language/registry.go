package language

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jae464/vibe-judge/internal/domain"
)

// Registry is an immutable lookup table from language identifier to profile.
type Registry struct {
	profiles map[string]*Profile
	aliases  map[string]string
}

// NewRegistry builds a registry from profiles. A non-empty enabled list keeps
// only the named languages; later profiles with the same id replace earlier ones.
func NewRegistry(profiles []Profile, enabled []string) (*Registry, error) {
	r := &Registry{
		profiles: make(map[string]*Profile),
		aliases:  make(map[string]string),
	}

	keep := make(map[string]bool, len(enabled))
	for _, id := range enabled {
		keep[strings.ToLower(id)] = true
	}

	for i := range profiles {
		p := profiles[i]
		p.ID = strings.ToLower(strings.TrimSpace(p.ID))
		if err := p.validate(); err != nil {
			return nil, err
		}
		if len(keep) > 0 && !keep[p.ID] {
			continue
		}
		if prev, ok := r.profiles[p.ID]; ok && len(p.Aliases) == 0 {
			p.Aliases = prev.Aliases
		}
		r.profiles[p.ID] = &p
	}

	for id, p := range r.profiles {
		for _, alias := range p.Aliases {
			alias = strings.ToLower(alias)
			if _, taken := r.profiles[alias]; taken {
				continue
			}
			r.aliases[alias] = id
		}
	}

	if len(r.profiles) == 0 {
		return nil, fmt.Errorf("no languages enabled")
	}
	return r, nil
}

// Load builds the registry from the built-in table, optional YAML overrides and an enable list.
func Load(overridesFile string, enabled []string) (*Registry, error) {
	profiles := Builtin()
	if overridesFile != "" {
		extra, err := LoadFile(overridesFile)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, extra...)
	}
	return NewRegistry(profiles, enabled)
}

// LoadFile reads profiles from a YAML document of the form `languages: [...]`.
func LoadFile(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read languages file: %w", err)
	}
	var doc struct {
		Languages []Profile `yaml:"languages"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse languages file: %w", err)
	}
	return doc.Languages, nil
}

// Resolve returns the profile for id or an error wrapping domain.ErrUnsupportedLanguage.
func (r *Registry) Resolve(id string) (*Profile, error) {
	key := strings.ToLower(strings.TrimSpace(id))
	if p, ok := r.profiles[key]; ok {
		return p, nil
	}
	if canonical, ok := r.aliases[key]; ok {
		return r.profiles[canonical], nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedLanguage, id)
}

// List returns the enabled profiles sorted by id.
func (r *Registry) List() []*Profile {
	out := make([]*Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Images returns the distinct images referenced by enabled profiles.
func (r *Registry) Images() []string {
	seen := make(map[string]bool)
	var images []string
	for _, p := range r.List() {
		if !seen[p.Image] {
			seen[p.Image] = true
			images = append(images, p.Image)
		}
	}
	return images
}

// Info describes enabled languages for API clients.
func (r *Registry) Info() []domain.LanguageInfo {
	profiles := r.List()
	out := make([]domain.LanguageInfo, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, domain.LanguageInfo{
			ID:       p.ID,
			Name:     p.Name,
			Version:  p.Version,
			Compiled: p.Compiled(),
			Aliases:  p.Aliases,
		})
	}
	return out
}
