package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"market-research-tracker/internal/models"
)

func TestBuildReportTitle(t *testing.T) {
	t.Run("Should include geography when present", func(t *testing.T) {
		title := BuildReportTitle(models.TaskMetadata{Industry: "Fintech", Geography: "UAE"})
		assert.Equal(t, "Fintech Market Research Report - UAE", title)
	})

	t.Run("Should omit geography when empty", func(t *testing.T) {
		title := BuildReportTitle(models.TaskMetadata{Industry: "Fintech"})
		assert.Equal(t, "Fintech Market Research Report", title)
	})

	t.Run("Should omit the Not specified sentinel", func(t *testing.T) {
		title := BuildReportTitle(models.TaskMetadata{Industry: "Fintech", Geography: NotSpecified})
		assert.Equal(t, "Fintech Market Research Report", title)
	})
}

func TestBuildResearchInput(t *testing.T) {
	t.Run("Should include all input lines with defaults", func(t *testing.T) {
		input := BuildResearchInput(models.TaskMetadata{Industry: "HVAC"})
		assert.Contains(t, input, "Industry: HVAC")
		assert.Contains(t, input, "Geography: Not specified")
		assert.Contains(t, input, "Commercial Real Estate Sector: Not specified")
		assert.Contains(t, input, "Specific Details Required: Not specified")
	})

	t.Run("Should add the UAE geography note", func(t *testing.T) {
		input := BuildResearchInput(models.TaskMetadata{Industry: "HVAC", Geography: "UAE"})
		assert.Contains(t, input, "United Arab Emirates")
		assert.Contains(t, input, "seven emirates")
	})

	t.Run("Should match the geography note case-insensitively", func(t *testing.T) {
		input := BuildResearchInput(models.TaskMetadata{Industry: "HVAC", Geography: "ksa"})
		assert.Contains(t, input, "Kingdom of Saudi Arabia")
		assert.Contains(t, input, "Vision 2030")
	})

	t.Run("Should add the sector note for a known sector", func(t *testing.T) {
		input := BuildResearchInput(models.TaskMetadata{Industry: "HVAC", CRESector: "Office"})
		assert.Contains(t, input, "co-working spaces")
	})

	t.Run("Should cover every sector for All", func(t *testing.T) {
		input := BuildResearchInput(models.TaskMetadata{Industry: "HVAC", CRESector: "All"})
		assert.Contains(t, input, "ALL major Commercial Real Estate sectors")
	})

	t.Run("Should always carry the table formatting rules", func(t *testing.T) {
		input := BuildResearchInput(models.TaskMetadata{Industry: "HVAC"})
		assert.Contains(t, input, "GitHub Flavored Markdown")
		assert.Contains(t, input, "OUTSIDE and ABOVE the table")
	})
}

func TestNormalizeProcessor(t *testing.T) {
	t.Run("Should keep valid tiers", func(t *testing.T) {
		for _, p := range []string{"pro", "ultra", "ultra2x", "ultra4x", "ultra8x"} {
			assert.Equal(t, p, NormalizeProcessor(p, "ultra"))
		}
	})

	t.Run("Should fall back to the default for unknown tiers", func(t *testing.T) {
		assert.Equal(t, "ultra", NormalizeProcessor("hyper", "ultra"))
		assert.Equal(t, "ultra", NormalizeProcessor("", "ultra"))
	})
}
