package relay

import (
	"fmt"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// Operation names.
const (
	OperationSend    = "send"
	OperationReceive = "receive"
)

// Receive modes.
const (
	ReceiveModeReceiveAndComplete = "receiveAndComplete"
	ReceiveModePeek               = "peek"
)

// Post-processing actions applied to fetched messages.
const (
	ActionComplete   = "complete"
	ActionAbandon    = "abandon"
	ActionDeadLetter = "deadLetter"
)

// Config is the resolved configuration of one relay invocation.
// An empty SubscriptionName means queue semantics; a non-empty one addresses
// a (topic, subscription) pair. MessageBody is the raw send parameter and is
// re-resolved per input item on the send path.
type Config struct {
	ConnectionString string `json:"connectionString" validate:"required"`
	DestinationName  string `json:"destinationName" validate:"required"`
	SubscriptionName string `json:"subscriptionName"`
	Operation        string `json:"operation" validate:"required,oneof=send receive"`

	MessageBody any `json:"messageBody" validate:"required_if=Operation send"`

	MaxMessages       int    `json:"maxMessages" default:"1" validate:"gte=1"`
	MaxWaitTimeMs     int    `json:"maxWaitTimeMs" default:"5000" validate:"gte=0"`
	PostProcessAction string `json:"postProcessAction" default:"complete" validate:"oneof=complete abandon deadLetter"`
	ReceiveMode       string `json:"receiveMode" default:"receiveAndComplete" validate:"oneof=receiveAndComplete peek"`
}

// Package-level validator instance
var validate = validator.New()

// PrepareConfig readies a Config before the executor runs:
// defaults from struct tags, then the resolved node parameters, then
// validation of the merged result.
func PrepareConfig(cfg *Config, params map[string]any) error {
	if err := defaults.Set(cfg); err != nil {
		return fmt.Errorf("failed to apply defaults: %w", err)
	}

	if len(params) > 0 {
		if err := mapToStruct(params, cfg); err != nil {
			return fmt.Errorf("failed to apply parameters: %w", err)
		}
	}

	if err := validate.Struct(cfg); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMessages []string
			for _, fieldErr := range validationErrors {
				errMessages = append(errMessages, fmt.Sprintf(
					"field '%s' failed validation (rule: %s)",
					fieldErr.Field(),
					fieldErr.Tag(),
				))
			}
			return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errMessages, "\n  - "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}
