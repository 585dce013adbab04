package domain

// TranscriptEntry is the single summary record a finished call leaves in the
// message thread. Composed once on the terminal transition and handed to the
// portal's messaging service; never updated afterwards.
type TranscriptEntry struct {
	Kind            CallKind    `json:"kind"`
	Outcome         CallOutcome `json:"outcome"`
	DurationSeconds int         `json:"duration_seconds"`
}
