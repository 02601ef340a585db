package tts

// Voices maps preset names to ElevenLabs voice IDs. The presets are
// multilingual female voices that read Russian well.
var Voices = map[string]string{
	"galina":    "XB0fDUnXU5powFXDhCwa",
	"charlotte": "XB0fDUnXU5powFXDhCwa",
	"aria":      "9BWtsMINqrJLrRacOk9x",
	"sarah":     "EXAVITQu4vr4xnSDxMaL",
	"lily":      "pFZP5JQG7iQjIQuC4Bku",
}

// DefaultVoice is the preset used when no voice is configured.
const DefaultVoice = "galina"

// ResolveVoice returns the voice ID for a preset name, or name unchanged
// when it is already an ID.
func ResolveVoice(name string) string {
	if id, ok := Voices[name]; ok {
		return id
	}
	return name
}
