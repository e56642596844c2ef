package escalation

// fallbackMessages are used whenever message generation fails.
var fallbackMessages = map[Level]string{
	LevelNudge:    "Hey, eyes back on the screen. You've got this.",
	LevelWarning:  "You've drifted again. Time to refocus and get back to work.",
	LevelCritical: "STOP. You have been distracted for far too long. Put everything down and get back to work NOW.",
}

// FallbackMessage returns the static message for a level.
// Out-of-range levels are clamped to 1..3.
func FallbackMessage(level Level) string {
	if level < LevelNudge {
		level = LevelNudge
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return fallbackMessages[level]
}
