package alarm

import (
	"strconv"
	"strings"
)

// DefaultVideoSeconds is the capture length when VIDEO has no usable
// argument.
const DefaultVideoSeconds = 3

// Command is one parsed SMS instruction. The set of implementations is
// closed; anything unrecognized parses to Invalid.
type Command interface {
	command()
}

// MotionAction selects what MOTION does to the motion detection unit.
type MotionAction string

const (
	MotionStop    MotionAction = "STOP"
	MotionStart   MotionAction = "START"
	MotionRestart MotionAction = "RESTART"
	MotionStatus  MotionAction = "STATUS"
)

type (
	// Restart restarts the alarm service.
	Restart struct{}
	// Stop stops the alarm service. Disabled unless configured.
	Stop struct{}
	// Reboot reboots the host.
	Reboot struct{}
	// Poweroff powers the host off. Disabled unless configured.
	Poweroff struct{}
	// Motion controls or queries the motion detection service.
	Motion struct{ Action MotionAction }
	// Battery reports the UPS state.
	Battery struct{}
	// Photo captures a still image.
	Photo struct{}
	// Video records a clip of Seconds seconds.
	Video struct{ Seconds int }
	// Help lists the enabled commands.
	Help struct{}
	// Invalid carries text that matched no command.
	Invalid struct{ Text string }
)

func (Restart) command()  {}
func (Stop) command()     {}
func (Reboot) command()   {}
func (Poweroff) command() {}
func (Motion) command()   {}
func (Battery) command()  {}
func (Photo) command()    {}
func (Video) command()    {}
func (Help) command()     {}
func (Invalid) command()  {}

// Grammar turns message text into commands.
type Grammar struct {
	EnableStop      bool
	EnablePoweroff  bool
	MaxVideoSeconds int // 0 means no limit
}

type keyword struct {
	name    string
	usage   string
	enabled func(Grammar) bool
	parse   func(g Grammar, text, sub, arg string) Command
}

func always(Grammar) bool { return true }

// keywords is ordered as listed by HELP.
var keywords = []keyword{
	{
		name: "STOP", usage: "STOP",
		enabled: func(g Grammar) bool { return g.EnableStop },
		parse:   func(Grammar, string, string, string) Command { return Stop{} },
	},
	{
		name: "RESTART", usage: "RESTART", enabled: always,
		parse: func(Grammar, string, string, string) Command { return Restart{} },
	},
	{
		name: "POWEROFF", usage: "POWEROFF",
		enabled: func(g Grammar) bool { return g.EnablePoweroff },
		parse:   func(Grammar, string, string, string) Command { return Poweroff{} },
	},
	{
		name: "REBOOT", usage: "REBOOT", enabled: always,
		parse: func(Grammar, string, string, string) Command { return Reboot{} },
	},
	{
		name: "MOTION", usage: "MOTION [STOP|START|RESTART|STATUS]", enabled: always,
		parse: func(_ Grammar, text, sub, _ string) Command {
			switch a := MotionAction(sub); a {
			case MotionStop, MotionStart, MotionRestart, MotionStatus:
				return Motion{Action: a}
			}
			return Invalid{Text: text}
		},
	},
	{
		name: "BATTERY", usage: "BATTERY", enabled: always,
		parse: func(Grammar, string, string, string) Command { return Battery{} },
	},
	{
		name: "PHOTO", usage: "PHOTO", enabled: always,
		parse: func(Grammar, string, string, string) Command { return Photo{} },
	},
	{
		name: "VIDEO", usage: "VIDEO [s]", enabled: always,
		parse: func(g Grammar, _, _, arg string) Command {
			return Video{Seconds: g.videoSeconds(arg)}
		},
	},
	{
		name: "HELP", usage: "HELP", enabled: always,
		parse: func(Grammar, string, string, string) Command { return Help{} },
	},
}

// Parse splits text on single spaces and matches the first token, case
// insensitively, against the enabled keywords.
func (g Grammar) Parse(text string) Command {
	tokens := append(strings.Split(text, " "), "")
	name := strings.ToUpper(tokens[0])
	sub := strings.ToUpper(tokens[1])

	for _, k := range keywords {
		if k.name == name && k.enabled(g) {
			return k.parse(g, text, sub, tokens[1])
		}
	}
	return Invalid{Text: text}
}

// Help returns the command summary sent in reply to HELP.
func (g Grammar) Help(name string) string {
	var usages []string
	for _, k := range keywords {
		if k.enabled(g) {
			usages = append(usages, k.usage)
		}
	}
	return name + " available commands: " + strings.Join(usages, ", ")
}

// videoSeconds accepts only ASCII digits, zero included. Anything else or a
// value that overflows int yields the default; the configured maximum caps
// the rest.
func (g Grammar) videoSeconds(arg string) int {
	if arg == "" || strings.Trim(arg, "0123456789") != "" {
		return DefaultVideoSeconds
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return DefaultVideoSeconds
	}
	if g.MaxVideoSeconds > 0 && n > g.MaxVideoSeconds {
		return g.MaxVideoSeconds
	}
	return n
}
