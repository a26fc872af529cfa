package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultKnowledgeBase(t *testing.T) {
	kb, err := DefaultKnowledgeBase()
	require.NoError(t, err)

	assert.Equal(t, []string{"potato", "tomato"}, kb.CropNames())
	assert.Equal(t, "potato", kb.DefaultCrop())

	potato, ok := kb.Crop("Potato")
	require.True(t, ok)
	assert.Equal(t, []string{"early_blight", "late_blight", "bacterial_wilt", "healthy"}, potato.Keys())
	assert.Equal(t, "healthy", potato.HealthyKey)
	assert.Equal(t, []string{"early_blight", "late_blight", "bacterial_wilt"}, potato.DiseaseKeys())

	rec, ok := potato.Record("late_blight")
	require.True(t, ok)
	assert.Equal(t, "Late Blight", rec.Name)
	assert.Equal(t, SeverityCritical, rec.Severity)

	tomato, ok := kb.Crop(" tomato ")
	require.True(t, ok)
	assert.Contains(t, tomato.Keys(), "septoria_leaf_spot")
	for _, r := range tomato.Records() {
		assert.NotEmpty(t, r.Name)
		assert.NotEmpty(t, r.Description)
	}
}

func TestKnowledgeBaseUnknownCropFallsBack(t *testing.T) {
	kb, err := DefaultKnowledgeBase()
	require.NoError(t, err)

	crop, ok := kb.Crop("rice")
	assert.False(t, ok)
	assert.Equal(t, "potato", crop.Name)
	assert.False(t, kb.Supports("rice"))
	assert.True(t, kb.Supports("TOMATO"))
}

func TestKeysReturnsCopy(t *testing.T) {
	kb, err := DefaultKnowledgeBase()
	require.NoError(t, err)
	crop, _ := kb.Crop("potato")

	keys := crop.Keys()
	keys[0] = "mutated"
	assert.Equal(t, "early_blight", crop.Keys()[0])
}

func TestParseKnowledgeBaseValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "no crops",
			doc:  "default_crop: potato\ncrops: []\n",
		},
		{
			name: "duplicate condition",
			doc: `crops:
  - name: potato
    healthy_key: healthy
    conditions:
      - {key: blight, name: Blight, severity: High}
      - {key: blight, name: Blight, severity: High}
      - {key: healthy, name: Healthy, severity: None}
`,
		},
		{
			name: "unknown severity",
			doc: `crops:
  - name: potato
    healthy_key: healthy
    conditions:
      - {key: blight, name: Blight, severity: Severe}
      - {key: healthy, name: Healthy, severity: None}
`,
		},
		{
			name: "healthy key not declared",
			doc: `crops:
  - name: potato
    healthy_key: fine
    conditions:
      - {key: blight, name: Blight, severity: High}
      - {key: healthy, name: Healthy, severity: None}
`,
		},
		{
			name: "no disease besides healthy",
			doc: `crops:
  - name: potato
    healthy_key: healthy
    conditions:
      - {key: healthy, name: Healthy, severity: None}
`,
		},
		{
			name: "default crop not declared",
			doc: `default_crop: rice
crops:
  - name: potato
    healthy_key: healthy
    conditions:
      - {key: blight, name: Blight, severity: High}
      - {key: healthy, name: Healthy, severity: None}
`,
		},
		{
			name: "duplicate crop",
			doc: `crops:
  - name: potato
    healthy_key: healthy
    conditions:
      - {key: blight, name: Blight, severity: High}
      - {key: healthy, name: Healthy, severity: None}
  - name: Potato
    healthy_key: healthy
    conditions:
      - {key: blight, name: Blight, severity: High}
      - {key: healthy, name: Healthy, severity: None}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKnowledgeBase([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParseKnowledgeBaseNormalizesSeverity(t *testing.T) {
	kb, err := ParseKnowledgeBase([]byte(`crops:
  - name: Pepper
    healthy_key: ok
    conditions:
      - {key: spot, name: Spot, severity: medium}
      - {key: ok, name: Fine, severity: none}
`))
	require.NoError(t, err)
	assert.Equal(t, "pepper", kb.DefaultCrop())

	crop, ok := kb.Crop("pepper")
	require.True(t, ok)
	rec, _ := crop.Record("spot")
	assert.Equal(t, SeverityMedium, rec.Severity)
}

func TestLoadKnowledgeBase(t *testing.T) {
	kb, err := LoadKnowledgeBase("")
	require.NoError(t, err)
	assert.Equal(t, "potato", kb.DefaultCrop())

	path := filepath.Join(t.TempDir(), "kb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`crops:
  - name: onion
    healthy_key: healthy
    conditions:
      - {key: rot, name: Neck Rot, severity: Medium}
      - {key: healthy, name: Healthy, severity: None}
`), 0o644))
	kb, err = LoadKnowledgeBase(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"onion"}, kb.CropNames())

	_, err = LoadKnowledgeBase(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseSeverity(t *testing.T) {
	sev, ok := ParseSeverity(" critical ")
	assert.True(t, ok)
	assert.Equal(t, SeverityCritical, sev)

	_, ok = ParseSeverity("extreme")
	assert.False(t, ok)
}
