package workflow

import (
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// BackoffKind selects how the retry delay scales with the attempt count.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy configures the retry loop of a do() call.
type RetryPolicy struct {
	// Limit is the maximum number of retries after the first attempt;
	// the loop performs at most Limit+1 attempts total.
	Limit int `mapstructure:"limit" validate:"gte=0"`
	// Delay is a duration string ("100 milliseconds") applied between
	// attempts, scaled by Backoff.
	Delay string `mapstructure:"delay" validate:"required"`
	// Backoff is "fixed" or "exponential".
	Backoff BackoffKind `mapstructure:"backoff" validate:"omitempty,oneof=fixed exponential"`
}

// StepOptions configures a single do() call.
type StepOptions struct {
	Retries *RetryPolicy `mapstructure:"retries"`
	// Timeout is a duration string bounding a single attempt.
	Timeout string `mapstructure:"timeout"`
	// Kind groups steps under a shared circuit breaker. Steps that call
	// into the same downstream dependency should share a Kind so a
	// systemic outage trips one breaker instead of exhausting every
	// calling step's own retry budget independently. Defaults to
	// "default" when empty.
	Kind string `mapstructure:"kind"`
}

// StepDefaults fills in a do() call's retry/timeout policy wherever its own
// StepOptions (or a nil StepOptions entirely) leaves a field unset. It
// mirrors config.WorkflowConfig's default_retry_limit/default_retry_delay/
// default_backoff/default_step_timeout fields one-to-one; the workflow
// package stays independent of internal/config so the caller is
// responsible for the translation.
type StepDefaults struct {
	RetryLimit  int
	RetryDelay  string
	Backoff     BackoffKind
	StepTimeout string
}

var optionsValidator = validator.New()

// Validate checks opts against its struct tags. A nil opts is always
// valid — do() falls back to the executor's StepDefaults.
func (o *StepOptions) Validate() error {
	if o == nil {
		return nil
	}
	if o.Retries != nil {
		if err := optionsValidator.Struct(o.Retries); err != nil {
			return err
		}
	}
	return nil
}

func (o *StepOptions) kind() string {
	if o == nil || o.Kind == "" {
		return "default"
	}
	return o.Kind
}

// DecodeStepOptions builds a StepOptions from an opaque options map, the
// shape a workflow definition typically receives when its own retry/timeout
// policy is itself data-driven (e.g. loaded from WorkflowEnv or a config
// file) rather than a Go literal.
func DecodeStepOptions(raw map[string]interface{}) (*StepOptions, error) {
	var opts StepOptions
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, err
	}
	return &opts, nil
}
