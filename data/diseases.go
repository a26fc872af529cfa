package data

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed diseases.yaml
var defaultKnowledgeBase []byte

// Severity is the clinical severity attached to a leaf condition.
type Severity string

const (
	SeverityNone     Severity = "None"
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// ParseSeverity matches s case-insensitively against the known severities.
func ParseSeverity(s string) (Severity, bool) {
	for _, sev := range []Severity{SeverityNone, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		if strings.EqualFold(strings.TrimSpace(s), string(sev)) {
			return sev, true
		}
	}
	return "", false
}

// DiseaseRecord describes one condition of one crop. Records are never mutated after load.
type DiseaseRecord struct {
	Key            string   `yaml:"key" json:"key"`
	Name           string   `yaml:"name" json:"name"`
	Severity       Severity `yaml:"severity" json:"severity"`
	Description    string   `yaml:"description" json:"description"`
	Pesticide      string   `yaml:"pesticide" json:"pesticide"`
	Treatment      string   `yaml:"treatment" json:"treatment"`
	Recommendation string   `yaml:"recommendation" json:"recommendation"`
}

type cropDocument struct {
	Name       string          `yaml:"name"`
	HealthyKey string          `yaml:"healthy_key"`
	Conditions []DiseaseRecord `yaml:"conditions"`
}

type knowledgeDocument struct {
	DefaultCrop string         `yaml:"default_crop"`
	Crops       []cropDocument `yaml:"crops"`
}

// Crop is the ordered condition list of a single crop.
type Crop struct {
	Name       string
	HealthyKey string
	keys       []string
	records    map[string]DiseaseRecord
}

// Keys returns the condition keys in model output order.
func (c *Crop) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// DiseaseKeys returns every key except the healthy one, in order.
func (c *Crop) DiseaseKeys() []string {
	out := make([]string, 0, len(c.keys)-1)
	for _, k := range c.keys {
		if k != c.HealthyKey {
			out = append(out, k)
		}
	}
	return out
}

// Record looks up a condition by key.
func (c *Crop) Record(key string) (DiseaseRecord, bool) {
	r, ok := c.records[key]
	return r, ok
}

// Records returns all records in key order.
func (c *Crop) Records() []DiseaseRecord {
	out := make([]DiseaseRecord, 0, len(c.keys))
	for _, k := range c.keys {
		out = append(out, c.records[k])
	}
	return out
}

// KnowledgeBase maps crops to their condition records.
type KnowledgeBase struct {
	defaultCrop string
	order       []string
	crops       map[string]*Crop
}

// DefaultKnowledgeBase parses the embedded potato/tomato document.
func DefaultKnowledgeBase() (*KnowledgeBase, error) {
	return ParseKnowledgeBase(defaultKnowledgeBase)
}

// LoadKnowledgeBase reads a YAML knowledge base from path. An empty path yields the embedded one.
func LoadKnowledgeBase(path string) (*KnowledgeBase, error) {
	if path == "" {
		return DefaultKnowledgeBase()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge base %s: %w", path, err)
	}
	kb, err := ParseKnowledgeBase(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse knowledge base %s: %w", path, err)
	}
	return kb, nil
}

// ParseKnowledgeBase decodes and validates a YAML knowledge base document.
func ParseKnowledgeBase(raw []byte) (*KnowledgeBase, error) {
	var doc knowledgeDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if len(doc.Crops) == 0 {
		return nil, errors.New("knowledge base has no crops")
	}

	kb := &KnowledgeBase{
		defaultCrop: strings.ToLower(doc.DefaultCrop),
		crops:       make(map[string]*Crop, len(doc.Crops)),
	}
	for _, cd := range doc.Crops {
		name := strings.ToLower(strings.TrimSpace(cd.Name))
		if name == "" {
			return nil, errors.New("crop without a name")
		}
		if _, dup := kb.crops[name]; dup {
			return nil, fmt.Errorf("crop %q declared twice", name)
		}
		crop := &Crop{
			Name:       name,
			HealthyKey: cd.HealthyKey,
			records:    make(map[string]DiseaseRecord, len(cd.Conditions)),
		}
		for _, rec := range cd.Conditions {
			if rec.Key == "" {
				return nil, fmt.Errorf("crop %q: condition without a key", name)
			}
			if _, dup := crop.records[rec.Key]; dup {
				return nil, fmt.Errorf("crop %q: condition %q declared twice", name, rec.Key)
			}
			sev, ok := ParseSeverity(string(rec.Severity))
			if !ok {
				return nil, fmt.Errorf("crop %q: condition %q has unknown severity %q", name, rec.Key, rec.Severity)
			}
			rec.Severity = sev
			crop.keys = append(crop.keys, rec.Key)
			crop.records[rec.Key] = rec
		}
		if _, ok := crop.records[crop.HealthyKey]; !ok {
			return nil, fmt.Errorf("crop %q: healthy key %q is not a declared condition", name, crop.HealthyKey)
		}
		if len(crop.keys) < 2 {
			return nil, fmt.Errorf("crop %q needs at least one disease besides %q", name, crop.HealthyKey)
		}
		kb.crops[name] = crop
		kb.order = append(kb.order, name)
	}

	if kb.defaultCrop == "" {
		kb.defaultCrop = kb.order[0]
	}
	if _, ok := kb.crops[kb.defaultCrop]; !ok {
		return nil, fmt.Errorf("default crop %q is not declared", kb.defaultCrop)
	}
	return kb, nil
}

// Crop returns the named crop, or the default crop when the name is unknown.
// The boolean reports whether the name itself was found.
func (kb *KnowledgeBase) Crop(name string) (*Crop, bool) {
	if c, ok := kb.crops[strings.ToLower(strings.TrimSpace(name))]; ok {
		return c, true
	}
	return kb.crops[kb.defaultCrop], false
}

// Supports reports whether name is a declared crop.
func (kb *KnowledgeBase) Supports(name string) bool {
	_, ok := kb.crops[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// DefaultCrop returns the crop used for unknown names.
func (kb *KnowledgeBase) DefaultCrop() string {
	return kb.defaultCrop
}

// CropNames lists the crops in document order.
func (kb *KnowledgeBase) CropNames() []string {
	out := make([]string, len(kb.order))
	copy(out, kb.order)
	return out
}
