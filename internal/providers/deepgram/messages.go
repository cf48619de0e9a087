package deepgram

import (
	"encoding/json"
	"errors"
	"strings"

	"voxdeck/internal/domain"
)

// message is the subset of Deepgram's live transcription messages we read.
type message struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (m message) transcript() string {
	if len(m.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(m.Channel.Alternatives[0].Transcript)
}

// decodeMessage turns one websocket payload into a transcript event. ok is
// false for messages that carry nothing to emit. A provider error message
// yields a speech-final event along with the error so listeners stop
// waiting.
func decodeMessage(payload []byte) (event domain.TranscriptEvent, ok bool, err error) {
	var msg message
	if json.Unmarshal(payload, &msg) != nil {
		return domain.TranscriptEvent{}, false, nil
	}

	switch strings.ToLower(msg.Type) {
	case "utteranceend":
		return domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, IsSpeechFinal: true}, true, nil
	case "error":
		detail := strings.TrimSpace(msg.Description)
		if detail == "" {
			detail = strings.TrimSpace(msg.Message)
		}
		if detail == "" {
			detail = "deepgram returned an unknown error"
		}
		return domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, IsSpeechFinal: true}, true, errors.New(detail)
	case "metadata", "speechstarted":
		return domain.TranscriptEvent{}, false, nil
	}

	text := msg.transcript()
	if text == "" {
		if msg.SpeechFinal {
			return domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, IsSpeechFinal: true}, true, nil
		}
		return domain.TranscriptEvent{}, false, nil
	}

	event = domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: text, IsSpeechFinal: msg.SpeechFinal}
	if msg.IsFinal || msg.SpeechFinal {
		event.Kind = domain.TranscriptKindFinal
	}
	return event, true, nil
}
