package v1

// Data is the whole-document shape of data.json. It is loaded whole,
// validated, and rewritten whole. The recurringChecks and oneTimeChecks
// arrays are a legacy location; current writers keep checks in their
// dedicated files and drain these on first save.
type Data struct {
	Projects          []Project          `json:"projects"`
	Teams             []Team             `json:"teams"`
	Assignments       []Assignment       `json:"assignments"`
	Settings          Settings           `json:"settings"`
	ScheduledMessages []ScheduledMessage `json:"scheduledMessages"`
	RecurringChecks   []ScheduledCheck   `json:"recurringChecks,omitempty"`
	OneTimeChecks     []ScheduledCheck   `json:"oneTimeChecks,omitempty"`
}

// DefaultOrchestratorSession is the reserved session name used when the
// settings document does not name one.
const DefaultOrchestratorSession = "crewly-orc"

// DefaultData returns the document written on first save when no data.json
// exists yet.
func DefaultData() *Data {
	return &Data{
		Projects:          []Project{},
		Teams:             []Team{},
		Assignments:       []Assignment{},
		ScheduledMessages: []ScheduledMessage{},
		Settings: Settings{
			OrchestratorSessionName: DefaultOrchestratorSession,
			OrchestratorRuntime:     DefaultRuntime,
			DefaultMaxRetries:       3,
		},
	}
}
