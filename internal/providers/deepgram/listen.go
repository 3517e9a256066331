package deepgram

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"chatdesk/internal/domain"
	"chatdesk/internal/ports"
)

const defaultBaseURL = "https://api.deepgram.com/v1"

type alternative struct {
	Transcript string `json:"transcript"`
}

type channel struct {
	Alternatives []alternative `json:"alternatives"`
}

// listenMessage is one server message on the /listen socket.
type listenMessage struct {
	Type        string  `json:"type"`
	Message     string  `json:"message"`
	Description string  `json:"description"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Channel     channel `json:"channel"`
}

func (m listenMessage) transcript() string {
	if len(m.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(m.Channel.Alternatives[0].Transcript)
}

func (m listenMessage) errorText() string {
	for _, text := range []string{m.Message, m.Description} {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return trimmed
		}
	}
	return "deepgram returned an unknown error"
}

// decodeListenMessage turns a raw socket payload into a caption event.
// ok is false for payloads that carry no caption text.
func decodeListenMessage(payload []byte) (event domain.CaptionEvent, ok bool, err error) {
	var msg listenMessage
	if jsonErr := json.Unmarshal(payload, &msg); jsonErr != nil {
		return domain.CaptionEvent{}, false, nil
	}
	if strings.EqualFold(msg.Type, "Error") {
		return domain.CaptionEvent{}, false, fmt.Errorf("deepgram: %s", msg.errorText())
	}
	if msg.Type != "" && !strings.EqualFold(msg.Type, "Results") {
		return domain.CaptionEvent{}, false, nil
	}

	text := msg.transcript()
	if text == "" {
		return domain.CaptionEvent{}, false, nil
	}
	kind := domain.CaptionKindInterim
	if msg.IsFinal || msg.SpeechFinal {
		kind = domain.CaptionKindFinal
	}
	return domain.CaptionEvent{Kind: kind, Text: text}, true, nil
}

func listenURL(providerCfg Config, captionCfg ports.CaptionConfig) (string, error) {
	base := strings.TrimSpace(providerCfg.APIBaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	u, err := url.Parse(strings.TrimRight(base, "/") + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	if captionCfg.Encoding == "" {
		captionCfg.Encoding = "linear16"
	}
	if captionCfg.SampleRate <= 0 {
		captionCfg.SampleRate = 16000
	}
	if captionCfg.Channels <= 0 {
		captionCfg.Channels = 1
	}

	q := u.Query()
	q.Set("model", providerCfg.Model)
	q.Set("encoding", captionCfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(captionCfg.SampleRate))
	q.Set("channels", strconv.Itoa(captionCfg.Channels))
	q.Set("interim_results", strconv.FormatBool(captionCfg.InterimResults))
	q.Set("smart_format", strconv.FormatBool(providerCfg.SmartFormat))
	if providerCfg.Language != "" {
		q.Set("language", providerCfg.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
