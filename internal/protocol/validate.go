package protocol

import (
	"encoding/json"
	"fmt"
)

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeTrainingStart:       true,
	TypeTrainingStop:        true,
	TypeTrainingPause:       true,
	TypeTrainingResume:      true,
	TypeTrainingReconfigure: true,
}

// payloadOptional marks commands that carry no arguments.
var payloadOptional = map[string]bool{
	TypeTrainingStop:   true,
	TypeTrainingPause:  true,
	TypeTrainingResume: true,
}

// ValidateClientMessage validates a raw JSON message from a client.
// Returns the parsed Message and any validation error.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if msg.Payload == nil && !payloadOptional[msg.Type] {
		return nil, fmt.Errorf("missing 'payload' field")
	}

	switch msg.Type {
	case TypeTrainingStart:
		var p TrainingStartPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.LearningRate < 0 {
			return nil, fmt.Errorf("negative 'lr' in %s payload", msg.Type)
		}
		if p.Epochs < 0 || p.BatchSize < 0 {
			return nil, fmt.Errorf("negative counts in %s payload", msg.Type)
		}

	case TypeTrainingReconfigure:
		var p ReconfigurePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.LearningRate == nil && p.BatchSize == nil {
			return nil, fmt.Errorf("%s payload must set 'lr' or 'batch_size'", msg.Type)
		}
	}

	return &msg, nil
}

// NewErrorMessage creates an error message ready to send to the client.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
