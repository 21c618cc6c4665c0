package progress

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/tendant/simple-stars/pkg/domain"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Stage is a named tier reached at a star threshold. Number is 1-based.
type Stage struct {
	Number    int    `yaml:"-" json:"number"`
	Threshold int    `yaml:"threshold" json:"threshold"`
	Name      string `yaml:"name" json:"name"`
}

// Catalog holds the static stage thresholds and badge definitions.
// It is immutable after construction and safe for concurrent use.
type Catalog struct {
	stages []Stage
	badges []domain.Badge
	byID   map[string]domain.Badge
}

type catalogFile struct {
	Stages []Stage        `yaml:"stages"`
	Badges []domain.Badge `yaml:"badges"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic("progress: built-in catalog is invalid: " + err.Error())
	}
	return c
}

// LoadCatalog reads a YAML catalog from path. An empty path yields the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return NewCatalog(file.Stages, file.Badges)
}

// NewCatalog validates stages and badges and assigns stage numbers and badge buckets.
// Stage thresholds must start at 0 and be strictly increasing.
func NewCatalog(stages []Stage, badges []domain.Badge) (*Catalog, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("%w: at least one stage is required", domain.ErrInvalidCatalog)
	}
	c := &Catalog{
		stages: make([]Stage, len(stages)),
		badges: make([]domain.Badge, 0, len(badges)),
		byID:   make(map[string]domain.Badge, len(badges)),
	}
	for i, s := range stages {
		if i == 0 && s.Threshold != 0 {
			return nil, fmt.Errorf("%w: first stage threshold must be 0", domain.ErrInvalidCatalog)
		}
		if i > 0 && s.Threshold <= stages[i-1].Threshold {
			return nil, fmt.Errorf("%w: stage thresholds must be strictly increasing", domain.ErrInvalidCatalog)
		}
		s.Number = i + 1
		c.stages[i] = s
	}

	for _, b := range badges {
		if b.ID == "" {
			return nil, fmt.Errorf("%w: badge id is required", domain.ErrInvalidCatalog)
		}
		if b.UnlockStars <= 0 {
			return nil, fmt.Errorf("%w: badge %q must unlock above 0 stars", domain.ErrInvalidCatalog, b.ID)
		}
		if _, dup := c.byID[b.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate badge id %q", domain.ErrInvalidCatalog, b.ID)
		}
		b.Bucket = c.StageFor(b.UnlockStars).Number
		c.byID[b.ID] = b
		c.badges = append(c.badges, b)
	}
	sort.SliceStable(c.badges, func(i, j int) bool {
		return c.badges[i].UnlockStars < c.badges[j].UnlockStars
	})

	return c, nil
}

// Stages returns the stages in threshold order.
func (c *Catalog) Stages() []Stage {
	return append([]Stage(nil), c.stages...)
}

// Badges returns every badge ordered by unlock threshold.
func (c *Catalog) Badges() []domain.Badge {
	return append([]domain.Badge(nil), c.badges...)
}

// Badge looks up a badge by id.
func (c *Catalog) Badge(id string) (domain.Badge, bool) {
	b, ok := c.byID[id]
	return b, ok
}

// Ceiling is the top stage threshold. Crossing it is the milestone.
func (c *Catalog) Ceiling() int {
	return c.stages[len(c.stages)-1].Threshold
}
