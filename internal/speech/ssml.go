package speech

import "strings"

// SSML wraps the plain sentences in minimal SSML with a short break between
// sentences. The Text field stays identical to what Plain produces, so
// toggling SSML never changes the spoken words.
type SSML struct {
	plain Plain
}

func NewSSML() SSML { return SSML{} }

func (s SSML) NextMeeting(m *Meeting) Output    { return markup(s.plain.NextMeeting(m)) }
func (s SSML) TimeUntil(m *Meeting) Output      { return markup(s.plain.TimeUntil(m)) }
func (s SSML) DoneForDay(d DoneForDay) Output   { return markup(s.plain.DoneForDay(d)) }
func (s SSML) LaunchSummary(l LaunchSummary) Output {
	return markup(s.plain.LaunchSummary(l))
}
func (s SSML) MorningSummary(m MorningSummary) Output {
	return markup(s.plain.MorningSummary(m))
}

func markup(o Output) Output {
	escaped := escapeSSML(o.Text)
	escaped = strings.ReplaceAll(escaped, ". ", `. <break time="300ms"/> `)
	o.SSML = "<speak>" + escaped + "</speak>"
	return o
}

var ssmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

func escapeSSML(s string) string {
	return ssmlEscaper.Replace(s)
}
