package vapi

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/skiddly/skiddly/model"
)

const EndOfCallReport = "end-of-call-report"

type serverMessage struct {
	Message struct {
		Type         string    `json:"type"`
		EndedReason  string    `json:"endedReason"`
		Transcript   string    `json:"transcript"`
		RecordingURL string    `json:"recordingUrl"`
		StartedAt    time.Time `json:"startedAt"`
		EndedAt      time.Time `json:"endedAt"`
		Artifact     struct {
			Transcript   string `json:"transcript"`
			RecordingURL string `json:"recordingUrl"`
		} `json:"artifact"`
		Call struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"call"`
	} `json:"message"`
}

// ParseServerMessage reads a VAPI server message. ok is false for message types other
// than the end-of-call report, which callers acknowledge and ignore.
func ParseServerMessage(body []byte) (result *model.CallResult, ok bool, err error) {
	var msg serverMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, false, err
	}
	if msg.Message.Type == "" {
		return nil, false, errors.New("not a vapi server message")
	}
	if msg.Message.Type != EndOfCallReport {
		return nil, false, nil
	}

	m := msg.Message
	result = &model.CallResult{
		CallID:       m.Call.Metadata["callId"],
		CaseID:       m.Call.Metadata["caseId"],
		Transcript:   firstNonEmpty(m.Transcript, m.Artifact.Transcript),
		RecordingURL: firstNonEmpty(m.RecordingURL, m.Artifact.RecordingURL),
		EndedReason:  m.EndedReason,
		StartedAt:    m.StartedAt,
		EndedAt:      m.EndedAt,
	}
	if result.CallID == "" {
		// calls placed outside the dispatcher carry only the provider id
		result.CallID = m.Call.ID
	}
	return result, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
