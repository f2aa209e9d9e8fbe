package domain_test

import (
	"testing"
	"time"

	"github.com/popforge/popup-service/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestFrequencyCappingDefaults(t *testing.T) {
	tests := []struct {
		name     string
		template domain.TemplateType
		expected domain.FrequencyPolicy
	}{
		{
			"Free shipping bar is never capped",
			domain.TemplateFreeShipping,
			domain.FrequencyPolicy{Enabled: false, RespectGlobalCap: false},
		},
		{
			"Social proof toast is never capped",
			domain.TemplateSocialProof,
			domain.FrequencyPolicy{Enabled: false, RespectGlobalCap: false},
		},
		{
			"Announcement gets loose caps",
			domain.TemplateAnnouncement,
			domain.FrequencyPolicy{Enabled: true, MaxTriggersPerSession: 3, MaxTriggersPerDay: 10, RespectGlobalCap: true},
		},
		{
			"Newsletter modal is strict",
			domain.TemplateNewsletter,
			domain.FrequencyPolicy{Enabled: true, MaxTriggersPerSession: 1, MaxTriggersPerDay: 1, RespectGlobalCap: true},
		},
		{
			"Spin-to-win carries a 7 day cooldown",
			domain.TemplateSpinToWin,
			domain.FrequencyPolicy{Enabled: true, MaxTriggersPerSession: 1, MaxTriggersPerDay: 1, CooldownBetweenTriggers: 604800 * time.Second, RespectGlobalCap: true},
		},
		{
			"Scratch card carries a 3 day cooldown",
			domain.TemplateScratchCard,
			domain.FrequencyPolicy{Enabled: true, MaxTriggersPerSession: 1, MaxTriggersPerDay: 1, CooldownBetweenTriggers: 259200 * time.Second, RespectGlobalCap: true},
		},
		{
			"Flash sale gets moderate caps",
			domain.TemplateFlashSale,
			domain.FrequencyPolicy{Enabled: true, MaxTriggersPerSession: 2, MaxTriggersPerDay: 5, RespectGlobalCap: true},
		},
		{
			"Unknown types fall back to the strict modal default",
			domain.TemplateType("SOMETHING_NEW"),
			domain.FrequencyPolicy{Enabled: true, MaxTriggersPerSession: 1, MaxTriggersPerDay: 1, RespectGlobalCap: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := domain.FrequencyCappingDefaults(tt.template)
			assert.Equal(t, tt.expected, got)
		})
	}
}

// The table must be total and internally consistent for every known type.
func TestFrequencyCappingDefaults_Invariants(t *testing.T) {
	for _, tpl := range domain.TemplateTypes {
		p := domain.FrequencyCappingDefaults(tpl)
		if !p.Enabled {
			continue
		}
		assert.GreaterOrEqual(t, p.MaxTriggersPerDay, p.MaxTriggersPerSession, "template %s", tpl)
		assert.Positive(t, p.MaxTriggersPerSession, "template %s", tpl)
	}
}

func TestShouldEnableFrequencyCapping(t *testing.T) {
	assert.False(t, domain.ShouldEnableFrequencyCapping(domain.TemplateFreeShipping))
	assert.False(t, domain.ShouldEnableFrequencyCapping(domain.TemplateSocialProof))
	assert.True(t, domain.ShouldEnableFrequencyCapping(domain.TemplateNewsletter))
	assert.True(t, domain.ShouldEnableFrequencyCapping(domain.TemplateSpinToWin))
}
