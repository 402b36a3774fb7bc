package reps

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/pose-coach/internal/pose"
)

//go:embed exercises.yaml
var builtinYAML []byte

// ErrUnknownExercise is returned by Lookup for names not in the catalog.
var ErrUnknownExercise = errors.New("unknown exercise")

type catalogFile struct {
	Exercises []exerciseSpec `yaml:"exercises"`
}

type exerciseSpec struct {
	Name        string    `yaml:"name"`
	DisplayName string    `yaml:"display_name"`
	Aliases     []string  `yaml:"aliases"`
	Angle       []string  `yaml:"angle"`
	DownBelow   float64   `yaml:"down_below"`
	UpAbove     float64   `yaml:"up_above"`
	Gate        *gateSpec `yaml:"gate,omitempty"`
	Horizontal  *horzSpec `yaml:"horizontal,omitempty"`
}

type gateSpec struct {
	Joints    []string `yaml:"joints"`
	Threshold float64  `yaml:"threshold"`
	Advice    string   `yaml:"advice"`
}

type horzSpec struct {
	Shoulder    string  `yaml:"shoulder"`
	Hip         string  `yaml:"hip"`
	MaxFraction float64 `yaml:"max_fraction"`
	Advice      string  `yaml:"advice"`
}

// Catalog maps exercise names and aliases to definitions.
type Catalog struct {
	byName  map[string]Exercise
	aliases map[string]string
}

// DefaultCatalog returns the built-in squat and push-up definitions.
func DefaultCatalog() *Catalog {
	c := &Catalog{byName: map[string]Exercise{}, aliases: map[string]string{}}
	if err := c.merge(builtinYAML); err != nil {
		panic(fmt.Sprintf("builtin exercise catalog: %v", err))
	}
	return c
}

// LoadCatalog returns the built-in catalog extended by the file at path.
// Entries in the file replace built-ins with the same name. An empty path
// yields the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	c := DefaultCatalog()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read exercise catalog: %w", err)
	}
	if err := c.merge(data); err != nil {
		return nil, fmt.Errorf("failed to parse exercise catalog %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog builds a catalog from YAML alone, without built-ins.
func ParseCatalog(data []byte) (*Catalog, error) {
	c := &Catalog{byName: map[string]Exercise{}, aliases: map[string]string{}}
	if err := c.merge(data); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) merge(data []byte) error {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}
	for _, s := range file.Exercises {
		ex, err := s.build()
		if err != nil {
			return err
		}
		key := normalizeName(ex.Name)
		c.byName[key] = ex
		for _, a := range s.Aliases {
			c.aliases[normalizeName(a)] = key
		}
	}
	return nil
}

func (s exerciseSpec) build() (Exercise, error) {
	ex := Exercise{
		Name:        strings.TrimSpace(s.Name),
		DisplayName: s.DisplayName,
		DownBelow:   s.DownBelow,
		UpAbove:     s.UpAbove,
	}
	if len(s.Angle) != 3 {
		return ex, fmt.Errorf("exercise %q: angle needs exactly 3 joints, got %d", s.Name, len(s.Angle))
	}
	for i, name := range s.Angle {
		j, err := joint(s.Name, name)
		if err != nil {
			return ex, err
		}
		ex.Angle[i] = j
	}
	if g := s.Gate; g != nil {
		gate := &Gate{Threshold: g.Threshold, Advice: g.Advice}
		for _, name := range g.Joints {
			j, err := joint(s.Name, name)
			if err != nil {
				return ex, err
			}
			gate.Joints = append(gate.Joints, j)
		}
		ex.Gate = gate
	}
	if h := s.Horizontal; h != nil {
		sh, err := joint(s.Name, h.Shoulder)
		if err != nil {
			return ex, err
		}
		hip, err := joint(s.Name, h.Hip)
		if err != nil {
			return ex, err
		}
		ex.Horizontal = &HorizontalCheck{Shoulder: sh, Hip: hip, MaxFraction: h.MaxFraction, Advice: h.Advice}
	}
	return ex, ex.Validate()
}

func joint(exercise, name string) (pose.Joint, error) {
	j, ok := pose.ParseJoint(name)
	if !ok {
		return "", fmt.Errorf("exercise %q: unknown joint %q", exercise, name)
	}
	return j, nil
}

// Lookup resolves a name or alias, ignoring case, spaces, dashes and underscores.
func (c *Catalog) Lookup(name string) (Exercise, error) {
	key := normalizeName(name)
	if canon, ok := c.aliases[key]; ok {
		key = canon
	}
	ex, ok := c.byName[key]
	if !ok {
		return Exercise{}, fmt.Errorf("%w: %q", ErrUnknownExercise, name)
	}
	return ex, nil
}

// Names lists the canonical exercise names, sorted.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.byName))
	for _, ex := range c.byName {
		out = append(out, ex.Name)
	}
	sort.Strings(out)
	return out
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)
}
