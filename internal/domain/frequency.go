package domain

import "time"

// Frequency capping defaults, keyed by template type.
//
// Semantics:
// - Ambient UI (persistent bars, social-proof toasts) ships with capping
//   disabled: it is not interruptive, so re-showing it is harmless.
// - Interruptive modals default to strict caps; gamified templates also
//   carry a cooldown so the same visitor cannot replay the game.
// - The table is total over TemplateTypes and, whenever Enabled, satisfies
//   MaxTriggersPerDay >= MaxTriggersPerSession.
type FrequencyPolicy struct {
	Enabled                 bool
	MaxTriggersPerSession   int
	MaxTriggersPerDay       int
	CooldownBetweenTriggers time.Duration
	RespectGlobalCap        bool
}

func FrequencyCappingDefaults(t TemplateType) FrequencyPolicy {
	switch t {
	case TemplateFreeShipping, TemplateSocialProof:
		// Ambient, always-on UI: never capped.
		return FrequencyPolicy{Enabled: false, RespectGlobalCap: false}

	case TemplateAnnouncement:
		return FrequencyPolicy{
			Enabled:               true,
			MaxTriggersPerSession: 3,
			MaxTriggersPerDay:     10,
			RespectGlobalCap:      true,
		}

	case TemplateNewsletter:
		return FrequencyPolicy{
			Enabled:               true,
			MaxTriggersPerSession: 1,
			MaxTriggersPerDay:     1,
			RespectGlobalCap:      true,
		}

	case TemplateSpinToWin:
		return FrequencyPolicy{
			Enabled:                 true,
			MaxTriggersPerSession:   1,
			MaxTriggersPerDay:       1,
			CooldownBetweenTriggers: 7 * 24 * time.Hour,
			RespectGlobalCap:        true,
		}

	case TemplateScratchCard:
		return FrequencyPolicy{
			Enabled:                 true,
			MaxTriggersPerSession:   1,
			MaxTriggersPerDay:       1,
			CooldownBetweenTriggers: 3 * 24 * time.Hour,
			RespectGlobalCap:        true,
		}

	case TemplateFlashSale:
		return FrequencyPolicy{
			Enabled:               true,
			MaxTriggersPerSession: 2,
			MaxTriggersPerDay:     5,
			RespectGlobalCap:      true,
		}

	case TemplateCartAbandonment:
		return FrequencyPolicy{
			Enabled:               true,
			MaxTriggersPerSession: 3,
			MaxTriggersPerDay:     6,
			RespectGlobalCap:      true,
		}

	case TemplateProductUpsell:
		return FrequencyPolicy{
			Enabled:               true,
			MaxTriggersPerSession: 2,
			MaxTriggersPerDay:     4,
			RespectGlobalCap:      true,
		}

	default:
		// Unknown types get the strict modal default rather than no cap.
		return FrequencyPolicy{
			Enabled:               true,
			MaxTriggersPerSession: 1,
			MaxTriggersPerDay:     1,
			RespectGlobalCap:      true,
		}
	}
}

func ShouldEnableFrequencyCapping(t TemplateType) bool {
	return FrequencyCappingDefaults(t).Enabled
}
