package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/sakif/code-runner/internal/model"
)

// requestEnvelope is the value of a message on the requests topic: the
// POST /execute body plus an optional caller-chosen correlation id. When the
// id is empty the message key is used instead.
type requestEnvelope struct {
	ID string `json:"id,omitempty"`
	model.Request
}

// resultEnvelope is the value published on the results topic.
type resultEnvelope struct {
	RequestID   string            `json:"request_id,omitempty"`
	ExecutionID string            `json:"execution_id,omitempty"`
	Status      model.Status      `json:"status,omitempty"`
	Result      *model.Result     `json:"result,omitempty"`
	Validation  *model.Validation `json:"validation,omitempty"`
	Error       string            `json:"error,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// request is a decoded message.
type request struct {
	ID  string
	Req model.Request
}

func decodeRequestMessage(msg kafkago.Message) (request, error) {
	var envelope requestEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return request{ID: string(msg.Key)}, fmt.Errorf("decode message: %w", err)
	}

	id := envelope.ID
	if id == "" {
		id = string(msg.Key)
	}
	return request{ID: id, Req: envelope.Request}, nil
}

func encodeResult(r resultEnvelope) ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return payload, nil
}

// resultFromExecution projects a finished execution onto the wire shape.
func resultFromExecution(requestID string, e *model.Execution, now time.Time) resultEnvelope {
	resp := e.Response()
	return resultEnvelope{
		RequestID:   requestID,
		ExecutionID: resp.ID,
		Status:      resp.Status,
		Result:      resp.Result,
		Validation:  resp.Validation,
		Timestamp:   now.UTC(),
	}
}

func resultFromError(requestID string, err error, now time.Time) resultEnvelope {
	return resultEnvelope{
		RequestID: requestID,
		Error:     err.Error(),
		Timestamp: now.UTC(),
	}
}
