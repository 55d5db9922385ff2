package domain

const (
	PreviewMaxRunes       = 50
	SearchTextMaxRunes    = 200
	MediaPlaceholder      = "[Media]"
	NoMessagesPlaceholder = "No messages"
)

// Ellipsize shortens s to at most max runes, replacing the tail with "...".
func Ellipsize(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

// Truncate cuts s to at most max runes without a marker.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
