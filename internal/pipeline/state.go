package pipeline

// State is the dictation pipeline state. Exactly one authoritative
// instance exists, owned by the orchestrator.
type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StateInserting    State = "inserting"
)

// Mode controls how hotkey edges are interpreted. It never changes
// the state set, only which edge ends a listening session.
type Mode string

const (
	ModePushToToggle Mode = "push_to_toggle"
	ModePushToTalk   Mode = "push_to_talk"
)

// Event drives the transition function.
type Event string

const (
	EventHotkeyDown            Event = "hotkey_down"
	EventHotkeyUp              Event = "hotkey_up"
	EventSpeechSegmentReady    Event = "speech_segment_ready"
	EventTranscriptionComplete Event = "transcription_complete"
	EventInsertionComplete     Event = "insertion_complete"
	EventCancel                Event = "cancel"
)

// Transition is a total function: any state/event pair without an
// explicit rule leaves the state unchanged. Cancel always returns to
// idle from any non-idle state.
func Transition(state State, mode Mode, event Event) State {
	if event == EventCancel {
		return StateIdle
	}

	switch state {
	case StateIdle:
		if event == EventHotkeyDown {
			return StateListening
		}
	case StateListening:
		switch event {
		case EventSpeechSegmentReady:
			return StateTranscribing
		case EventHotkeyDown:
			if mode == ModePushToToggle {
				return StateIdle
			}
		case EventHotkeyUp:
			if mode == ModePushToTalk {
				return StateIdle
			}
		}
	case StateTranscribing:
		if event == EventTranscriptionComplete {
			return StateInserting
		}
	case StateInserting:
		if event == EventInsertionComplete {
			return StateIdle
		}
	}
	return state
}
