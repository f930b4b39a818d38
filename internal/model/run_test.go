package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/slok/formbot/internal/model"
)

func TestCanTransition(t *testing.T) {
	tests := map[string]struct {
		from model.RunStatus
		to   model.RunStatus
		exp  bool
	}{
		"Initializing to logging in should be allowed":           {from: model.RunStatusInitializing, to: model.RunStatusLoggingIn, exp: true},
		"Logging in to filling form should be allowed":           {from: model.RunStatusLoggingIn, to: model.RunStatusFillingForm, exp: true},
		"Filling form to waiting for input should be allowed":    {from: model.RunStatusFillingForm, to: model.RunStatusWaitingForInput, exp: true},
		"Waiting for input to filling form should be allowed":    {from: model.RunStatusWaitingForInput, to: model.RunStatusFillingForm, exp: true},
		"Filling form to form filled should be allowed":          {from: model.RunStatusFillingForm, to: model.RunStatusFormFilled, exp: true},
		"Filling form to completed should be allowed":            {from: model.RunStatusFillingForm, to: model.RunStatusCompleted, exp: true},
		"Initializing to error should be allowed":                {from: model.RunStatusInitializing, to: model.RunStatusError, exp: true},
		"Waiting for input to error should be allowed":           {from: model.RunStatusWaitingForInput, to: model.RunStatusError, exp: true},
		"Initializing to filling form should not be allowed":     {from: model.RunStatusInitializing, to: model.RunStatusFillingForm, exp: false},
		"Logging in to waiting for input should not be allowed":  {from: model.RunStatusLoggingIn, to: model.RunStatusWaitingForInput, exp: false},
		"Waiting for input to completed should not be allowed":   {from: model.RunStatusWaitingForInput, to: model.RunStatusCompleted, exp: false},
		"Filling form to filling form should not be allowed":     {from: model.RunStatusFillingForm, to: model.RunStatusFillingForm, exp: false},
		"Completed is terminal":                                  {from: model.RunStatusCompleted, to: model.RunStatusError, exp: false},
		"Form filled is terminal":                                {from: model.RunStatusFormFilled, to: model.RunStatusCompleted, exp: false},
		"Error is terminal":                                      {from: model.RunStatusError, to: model.RunStatusInitializing, exp: false},
		"Unknown statuses should not be allowed":                 {from: "running", to: model.RunStatusError, exp: false},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, model.CanTransition(test.from, test.to))
		})
	}
}

func TestAutomationRunValidate(t *testing.T) {
	pending := &model.InputRequest{ID: "req-1", Field: "policy_number", Prompt: "Enter policy number"}

	tests := map[string]struct {
		run    model.AutomationRun
		expErr bool
	}{
		"A running run without pending input should be valid": {
			run: model.AutomationRun{ID: "run-1", Status: model.RunStatusFillingForm},
		},
		"A waiting run with pending input should be valid": {
			run: model.AutomationRun{ID: "run-1", Status: model.RunStatusWaitingForInput, PendingInput: pending},
		},
		"A waiting run without pending input should fail": {
			run:    model.AutomationRun{ID: "run-1", Status: model.RunStatusWaitingForInput},
			expErr: true,
		},
		"A pending input outside waiting status should fail": {
			run:    model.AutomationRun{ID: "run-1", Status: model.RunStatusFillingForm, PendingInput: pending},
			expErr: true,
		},
		"Missing ID should fail": {
			run:    model.AutomationRun{Status: model.RunStatusInitializing},
			expErr: true,
		},
		"Unknown status should fail": {
			run:    model.AutomationRun{ID: "run-1", Status: "paused"},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := test.run.Validate()
			if test.expErr {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, model.ErrNotValid))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAutomationRunCopy(t *testing.T) {
	assert := assert.New(t)

	ended := time.Now()
	run := model.AutomationRun{
		ID:              "run-1",
		Status:          model.RunStatusWaitingForInput,
		Log:             []model.LogEntry{{Level: model.LogLevelInfo, Message: "a"}},
		PendingInput:    &model.InputRequest{ID: "req-1", Field: "f"},
		CollectedInputs: map[string]string{"x": "1"},
		EndedAt:         &ended,
	}

	c := run.Copy()
	c.Log[0].Message = "changed"
	c.PendingInput.Field = "changed"
	c.CollectedInputs["x"] = "changed"

	assert.Equal("a", run.Log[0].Message)
	assert.Equal("f", run.PendingInput.Field)
	assert.Equal("1", run.CollectedInputs["x"])
	assert.NotSame(run.EndedAt, c.EndedAt)
}

func TestAutomationRunTail(t *testing.T) {
	run := model.AutomationRun{ID: "run-1", Log: []model.LogEntry{{Message: "1"}, {Message: "2"}, {Message: "3"}}}

	tests := map[string]struct {
		n      int
		expLog []string
	}{
		"Zero should keep all entries":               {n: 0, expLog: []string{"1", "2", "3"}},
		"A bigger tail should keep all entries":      {n: 10, expLog: []string{"1", "2", "3"}},
		"A smaller tail should keep the last ones":   {n: 2, expLog: []string{"2", "3"}},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got := run.Tail(test.n)
			msgs := []string{}
			for _, e := range got.Log {
				msgs = append(msgs, e.Message)
			}
			assert.Equal(t, test.expLog, msgs)
			assert.Len(t, run.Log, 3)
		})
	}
}
