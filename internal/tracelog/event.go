// Package tracelog appends per-request trace events to a local JSON lines
// file and reads them back.
package tracelog

const (
	StepRequest     = "request"
	StepComposite   = "composite"
	StepCandidates  = "candidates"
	StepManual      = "manual"
	StepAIPrefilter = "ai_prefilter"
	StepAIRank      = "ai_rank"
	StepResponse    = "response"

	StepCommitRequest = "commit.request"
	StepCommitItem    = "commit.item"
	StepCommitDone    = "commit.done"
)

// Event is one trace record keyed by request id.
type Event struct {
	RID     string         `json:"rid"`
	Step    string         `json:"step"`
	TS      string         `json:"ts"`
	Actor   string         `json:"actor,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	Error   string         `json:"error,omitempty"`
}
