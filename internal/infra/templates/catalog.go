package templates

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownTemplate возвращается для идентификатора, которого нет в каталоге.
var ErrUnknownTemplate = errors.New("unknown report template")

// Section описывает раздел отчёта.
type Section string

const (
	SectionOverview     Section = "overview"
	SectionTrend        Section = "trend"
	SectionDistribution Section = "distribution"
	SectionHighlights   Section = "highlights"
	SectionNarrative    Section = "narrative"
)

// Template описывает оформление отчёта.
type Template struct {
	ID         string    `yaml:"id"`
	Title      string    `yaml:"title"`
	Subtitle   string    `yaml:"subtitle"`
	Sections   []Section `yaml:"sections"`
	Highlights int       `yaml:"highlights"`
	Language   string    `yaml:"language"`
}

type file struct {
	Templates []Template `yaml:"templates"`
}

// Catalog хранит известные шаблоны по идентификатору.
type Catalog struct {
	byID map[string]Template
}

// Builtin возвращает каталог со встроенными шаблонами default и brief.
func Builtin() *Catalog {
	c := &Catalog{byID: make(map[string]Template)}
	c.put(Template{
		ID:         "default",
		Title:      "{{topic}}: обзор литературы",
		Sections:   []Section{SectionOverview, SectionTrend, SectionDistribution, SectionHighlights, SectionNarrative},
		Highlights: 5,
		Language:   "Chinese",
	})
	c.put(Template{
		ID:         "brief",
		Title:      "{{topic}}: краткая сводка",
		Sections:   []Section{SectionOverview, SectionDistribution},
		Highlights: 0,
		Language:   "Chinese",
	})
	return c
}

// Load читает YAML-файл и дополняет встроенный каталог. Пустой путь — только встроенные.
func Load(path string) (*Catalog, error) {
	c := Builtin()
	if strings.TrimSpace(path) == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение каталога шаблонов: %w", err)
	}
	if err := c.merge(raw); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) merge(raw []byte) error {
	var parsed file
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("разбор каталога шаблонов: %w", err)
	}
	for _, tpl := range parsed.Templates {
		tpl.ID = strings.TrimSpace(tpl.ID)
		if tpl.ID == "" {
			return errors.New("шаблон без id")
		}
		for _, s := range tpl.Sections {
			if !s.valid() {
				return fmt.Errorf("шаблон %s: неизвестный раздел %q", tpl.ID, s)
			}
		}
		if len(tpl.Sections) == 0 {
			tpl.Sections = []Section{SectionOverview, SectionTrend, SectionDistribution}
		}
		c.put(tpl)
	}
	return nil
}

func (c *Catalog) put(t Template) {
	c.byID[t.ID] = t
}

// Get возвращает шаблон по идентификатору.
func (c *Catalog) Get(id string) (Template, error) {
	tpl, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, id)
	}
	return tpl, nil
}

// Has сообщает, известен ли шаблон.
func (c *Catalog) Has(id string) bool {
	_, err := c.Get(id)
	return err == nil
}

// IDs возвращает идентификаторы в алфавитном порядке.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Includes сообщает, содержит ли шаблон раздел.
func (t Template) Includes(s Section) bool {
	for _, candidate := range t.Sections {
		if candidate == s {
			return true
		}
	}
	return false
}

// RenderTitle подставляет название темы в заголовок.
func (t Template) RenderTitle(topic string) string {
	title := t.Title
	if title == "" {
		title = "{{topic}}"
	}
	return strings.ReplaceAll(title, "{{topic}}", topic)
}

func (s Section) valid() bool {
	switch s {
	case SectionOverview, SectionTrend, SectionDistribution, SectionHighlights, SectionNarrative:
		return true
	}
	return false
}
