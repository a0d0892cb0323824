package exchange

import "strings"

const BaseTopic = "uark/csce5013/embrugge"

const (
	ReminderSuffix = "/reminder"
	SongSuffix     = "/song"
	InfoSuffix     = "/info"
	NotesSuffix    = "/notes"
)

// ReminderTopic is the only topic messages are exchanged on.
const ReminderTopic = BaseTopic + ReminderSuffix

type Topics struct {
	Base     string
	Reminder string
	Song     string
	Info     string
	Notes    string
}

func NewTopics(base string) Topics {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = BaseTopic
	}
	return Topics{
		Base:     base,
		Reminder: base + ReminderSuffix,
		Song:     base + SongSuffix,
		Info:     base + InfoSuffix,
		Notes:    base + NotesSuffix,
	}
}
