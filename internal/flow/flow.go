// Package flow is the lead-collection conversation state machine. It decides
// what the assistant should do next; the model only phrases the reply.
package flow

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

type Stage string

const (
	StageGreeting      Stage = "greeting"
	StageCollectName   Stage = "collect_name"
	StageCollectPhone  Stage = "collect_phone"
	StageSaveLead      Stage = "save_lead"
	StageCollectIntent Stage = "collect_intent"
	StageSearch        Stage = "search"
)

// MaxNameLen bounds a parsed customer name, in runes.
const MaxNameLen = 80

// State travels with the client between turns.
type State struct {
	Stage     Stage  `json:"stage"`
	Name      string `json:"name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	LeadSaved bool   `json:"lead_saved,omitempty"`
}

// Step is the outcome of feeding one user message into the machine.
type Step struct {
	State State
	// Instruction is appended to the system prompt for this turn.
	Instruction string
	// Tools enables the product search tool loop.
	Tools bool
	// SaveLead asks the caller to record State.Name and State.Phone.
	SaveLead bool
}

var nameLeadIns = []string{
	"meu nome é", "meu nome e", "me chamo", "eu sou o", "eu sou a", "eu sou",
	"sou o", "sou a", "sou", "pode me chamar de", "nome:",
	"my name is", "i'm", "i am", "call me",
}

var nonDigit = regexp.MustCompile(`[^0-9]`)

// Advance moves state forward given the user's latest message.
func Advance(s State, userText string) Step {
	text := strings.TrimSpace(userText)

	switch s.Stage {
	case StageCollectName:
		name, ok := ParseName(text)
		if !ok {
			return Step{State: s, Instruction: askNameAgain}
		}
		s.Name = name
		s.Stage = StageCollectPhone
		return Step{State: s, Instruction: askPhone(name)}

	case StageCollectPhone:
		phone, ok := ParsePhone(text)
		if !ok {
			return Step{State: s, Instruction: askPhoneAgain(s.Name)}
		}
		s.Phone = phone
		s.Stage = StageSaveLead
		return Step{State: s, SaveLead: true, Instruction: askIntent(s.Name)}

	case StageSaveLead:
		// The caller did not confirm the save; try again with what we have.
		return Step{State: s, SaveLead: true, Instruction: askIntent(s.Name)}

	case StageCollectIntent, StageSearch:
		s.Stage = StageSearch
		return Step{State: s, Tools: true, Instruction: searchInstruction}

	default:
		s = State{Stage: StageCollectName}
		return Step{State: s, Instruction: greeting}
	}
}

// LeadSaved records a successful lead save and moves to intent collection.
func LeadSaved(s State) State {
	s.LeadSaved = true
	s.Stage = StageCollectIntent
	return s
}

// ParseName strips common lead-ins and punctuation from a reply to "what is
// your name". It fails when nothing letter-like remains.
func ParseName(text string) (string, bool) {
	t := strings.TrimSpace(text)
	lower := strings.ToLower(t)
	for _, p := range nameLeadIns {
		if strings.HasPrefix(lower, p+" ") || (strings.HasSuffix(p, ":") && strings.HasPrefix(lower, p)) {
			t = strings.TrimSpace(t[len(p):])
			break
		}
	}
	t = strings.TrimFunc(t, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
	})
	t = strings.Join(strings.Fields(t), " ")
	if t == "" || utf8.RuneCountInString(t) > MaxNameLen {
		return "", false
	}
	if strings.IndexFunc(t, unicode.IsLetter) < 0 {
		return "", false
	}
	return t, true
}

// ParsePhone accepts 8 to 15 digits, keeping a leading '+'.
func ParsePhone(text string) (string, bool) {
	t := strings.TrimSpace(text)
	digits := nonDigit.ReplaceAllString(t, "")
	if len(digits) < 8 || len(digits) > 15 {
		return "", false
	}
	if strings.HasPrefix(t, "+") {
		return "+" + digits, true
	}
	return digits, true
}
