package tts

import "github.com/book-expert/voice-roaster/internal/state"

// Stock provider voice ids used when the configuration maps nothing else.
const (
	VoiceIDRachel = "21m00Tcm4TlvDq8ikWAM"
	VoiceIDAdam   = "pNInz6obpgDQGcFmaJgB"
	VoiceIDJosh   = "TxGEqnHWrfWFTfGW9XjX"
	VoiceIDBella  = "EXAVITQu4vr4xnSDxMaL"
)

// VoiceTable maps voice modes to provider voice ids.
type VoiceTable struct {
	byMode       map[state.VoiceMode]string
	defaultVoice string
}

// DefaultVoiceMap is the stock persona for each voice mode.
func DefaultVoiceMap() map[state.VoiceMode]string {
	return map[state.VoiceMode]string{
		state.VoiceSilly:  VoiceIDRachel,
		state.VoiceRobot:  VoiceIDAdam,
		state.VoiceDeep:   VoiceIDJosh,
		state.VoiceSultry: VoiceIDBella,
	}
}

// NewVoiceTable builds a table from byMode. Empty ids are skipped, and an
// empty defaultVoice falls back to VoiceIDAdam.
func NewVoiceTable(byMode map[state.VoiceMode]string, defaultVoice string) VoiceTable {
	if defaultVoice == "" {
		defaultVoice = VoiceIDAdam
	}

	table := VoiceTable{
		byMode:       make(map[state.VoiceMode]string, len(byMode)),
		defaultVoice: defaultVoice,
	}

	for mode, voiceID := range byMode {
		if voiceID != "" {
			table.byMode[mode] = voiceID
		}
	}

	return table
}

// Resolve returns the provider voice for mode. Every mode resolves: a mode
// without a mapping uses the default voice.
func (v VoiceTable) Resolve(mode state.VoiceMode) string {
	voiceID, ok := v.byMode[mode]
	if !ok {
		return v.defaultVoice
	}

	return voiceID
}
