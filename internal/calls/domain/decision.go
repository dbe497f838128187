package calls

// DefaultRepeatPhrase is the room text that asks to re-announce the last call.
const DefaultRepeatPhrase = "CHAMAR NOVAMENTE"

// Mode tells a real room apart from the repeat request.
type Mode int

const (
	ModeNormal Mode = iota
	ModeRepeat
)

func (m Mode) String() string {
	if m == ModeRepeat {
		return "repeat"
	}
	return "normal"
}

// ModeOf classifies a parsed room against the repeat phrase.
func ModeOf(room, repeatPhrase string) Mode {
	if repeatPhrase == "" {
		repeatPhrase = DefaultRepeatPhrase
	}
	if NormalizeForCompare(room) == NormalizeForCompare(repeatPhrase) {
		return ModeRepeat
	}
	return ModeNormal
}

// Outcome is the result of reconciling one event.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	OutcomeRepeated Outcome = "repeated"
	OutcomeNoPrior  Outcome = "no_prior"
)

// Mutates reports whether the outcome writes to the store.
func (o Outcome) Mutates() bool {
	return o != OutcomeNoPrior
}

// Notifies reports whether the outcome is announced.
func (o Outcome) Notifies() bool {
	return o != OutcomeNoPrior
}

type decisionKey struct {
	mode  Mode
	found bool
}

var decisionTable = map[decisionKey]Outcome{
	{ModeNormal, false}: OutcomeInserted,
	{ModeNormal, true}:  OutcomeUpdated,
	{ModeRepeat, true}:  OutcomeRepeated,
	{ModeRepeat, false}: OutcomeNoPrior,
}

// Decide maps a mode and a store lookup result to an outcome.
func Decide(mode Mode, found bool) Outcome {
	return decisionTable[decisionKey{mode: mode, found: found}]
}
