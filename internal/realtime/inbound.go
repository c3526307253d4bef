package realtime

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/inbound.schema.json
var inboundSchemaSource string

var inboundSchema = jsonschema.MustCompileString("realtime_inbound.schema.json", inboundSchemaSource)

type inboundFrame struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type registerPayload struct {
	UserID      string `json:"userId"`
	LastEventID string `json:"lastEventId"`
}

type chatSignalPayload struct {
	ChatID string `json:"chatId"`
	From   string `json:"from,omitempty"`
	By     string `json:"by,omitempty"`
}

// parseInbound validates a client frame against the inbound schema and decodes it.
func parseInbound(raw []byte) (inboundFrame, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var document interface{}
	if err := decoder.Decode(&document); err != nil {
		return inboundFrame{}, fmt.Errorf("malformed frame: %w", err)
	}

	if err := inboundSchema.Validate(document); err != nil {
		return inboundFrame{}, fmt.Errorf("invalid frame: %s", firstLine(err.Error()))
	}

	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return inboundFrame{}, fmt.Errorf("malformed frame: %w", err)
	}
	return frame, nil
}

// decodeRegister accepts both the bare user id and the {userId, lastEventId} form.
func decodeRegister(data json.RawMessage) (registerPayload, error) {
	var userID string
	if err := json.Unmarshal(data, &userID); err == nil {
		return registerPayload{UserID: strings.TrimSpace(userID)}, nil
	}

	var payload registerPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return registerPayload{}, err
	}
	payload.UserID = strings.TrimSpace(payload.UserID)
	return payload, nil
}

func decodeString(data json.RawMessage) (string, error) {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func firstLine(message string) string {
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		return strings.TrimSpace(message[:idx])
	}
	return message
}
