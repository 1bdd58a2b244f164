package language

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/shlex"
)

// Template placeholders substituted per argv token.
const (
	PlaceholderFilename  = "{filename}"
	PlaceholderOutput    = "{output}"
	PlaceholderClassname = "{classname}"
)

// Profile describes how to compile and run one language inside an isolated environment.
type Profile struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Aliases     []string `yaml:"aliases"`
	Image       string   `yaml:"image"`
	SourceFile  string   `yaml:"source_file"`
	Extension   string   `yaml:"extension"`
	CompileCmd  string   `yaml:"compile"`
	RunCmd      string   `yaml:"run"`
	MemoryExtra int      `yaml:"memory_extra_mb"`
}

// Compiled reports whether the profile has a compile phase.
func (p *Profile) Compiled() bool {
	return strings.TrimSpace(p.CompileCmd) != ""
}

// OutputName is the compiled artifact name derived from the source file.
func (p *Profile) OutputName() string {
	return strings.TrimSuffix(path.Base(p.SourceFile), path.Ext(p.SourceFile))
}

// CompileCommand returns the compile argv. ok is false for interpreted languages.
func (p *Profile) CompileCommand() (argv []string, ok bool, err error) {
	if !p.Compiled() {
		return nil, false, nil
	}
	argv, err = p.expand(p.CompileCmd)
	return argv, err == nil, err
}

// RunCommand returns the run argv.
func (p *Profile) RunCommand() ([]string, error) {
	return p.expand(p.RunCmd)
}

// expand tokenizes a template and substitutes placeholders inside each token.
// Values never pass through a shell, so a placeholder can't widen into extra arguments.
func (p *Profile) expand(tmpl string) ([]string, error) {
	tokens, err := shlex.Split(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse command template %q: %w", tmpl, err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty command template for %s", p.ID)
	}

	replacer := strings.NewReplacer(
		PlaceholderFilename, p.SourceFile,
		PlaceholderOutput, p.OutputName(),
		PlaceholderClassname, p.OutputName(),
	)
	for i, tok := range tokens {
		tokens[i] = replacer.Replace(tok)
	}
	return tokens, nil
}

func (p *Profile) validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("profile without id")
	case p.Image == "":
		return fmt.Errorf("profile %s: image is required", p.ID)
	case p.SourceFile == "" || strings.ContainsAny(p.SourceFile, "/\\"):
		return fmt.Errorf("profile %s: source_file must be a bare file name", p.ID)
	case strings.TrimSpace(p.RunCmd) == "":
		return fmt.Errorf("profile %s: run command is required", p.ID)
	}
	if _, err := p.RunCommand(); err != nil {
		return err
	}
	if _, _, err := p.CompileCommand(); err != nil {
		return err
	}
	return nil
}
