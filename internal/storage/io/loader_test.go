package io

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/formbot/internal/model"
)

func TestConfigYAMLRepositoryGetServerConfig(t *testing.T) {
	tests := map[string]struct {
		fs     fstest.MapFS
		path   string
		expCfg model.ServerConfig
		expErr bool
	}{
		"A complete command engine config should load": {
			fs: fstest.MapFS{
				"formbot.yaml": &fstest.MapFile{Data: []byte(`
listen_address: 127.0.0.1:9000
upload_dir: /var/lib/formbot/uploads
input_timeout: 15m
engine:
  type: command
  command: ["python3", "agent.py"]
  env:
    BROWSER: chromium
`)},
			},
			path: "formbot.yaml",
			expCfg: model.ServerConfig{
				ListenAddress: "127.0.0.1:9000",
				UploadDir:     "/var/lib/formbot/uploads",
				InputTimeout:  15 * time.Minute,
				Engine: model.EngineConfig{
					Type:    model.EngineTypeCommand,
					Command: []string{"python3", "agent.py"},
					Env:     map[string]string{"BROWSER": "chromium"},
				},
			},
		},

		"A fake engine config with an inline scenario should load": {
			fs: fstest.MapFS{
				"formbot.yaml": &fstest.MapFile{Data: []byte(`
engine:
  type: fake
  scenario:
    step_delay: 200ms
    fail_at: logging_in
    fail_reason: login rejected
    fields:
      - name: policy_number
        email_key: policy number
        required: true
`)},
			},
			path: "formbot.yaml",
			expCfg: model.ServerConfig{
				Engine: model.EngineConfig{
					Type: model.EngineTypeFake,
					Scenario: &model.EngineScenario{
						StepDelay:  200 * time.Millisecond,
						FailAt:     model.RunStatusLoggingIn,
						FailReason: "login rejected",
						Fields: []model.ScenarioField{
							{Name: "policy_number", EmailKey: "policy number", Required: true},
						},
					},
				},
			},
		},

		"An empty config should load empty": {
			fs:     fstest.MapFS{"formbot.yaml": &fstest.MapFile{Data: []byte("---\n")}},
			path:   "formbot.yaml",
			expCfg: model.ServerConfig{},
		},

		"An invalid timeout should fail": {
			fs:     fstest.MapFS{"formbot.yaml": &fstest.MapFile{Data: []byte("input_timeout: soon\n")}},
			path:   "formbot.yaml",
			expErr: true,
		},

		"A negative timeout should fail": {
			fs:     fstest.MapFS{"formbot.yaml": &fstest.MapFile{Data: []byte("input_timeout: -1m\n")}},
			path:   "formbot.yaml",
			expErr: true,
		},

		"An unknown engine type should fail": {
			fs:     fstest.MapFS{"formbot.yaml": &fstest.MapFile{Data: []byte("engine:\n  type: selenium\n")}},
			path:   "formbot.yaml",
			expErr: true,
		},

		"An invalid inline scenario should fail": {
			fs:     fstest.MapFS{"formbot.yaml": &fstest.MapFile{Data: []byte("engine:\n  scenario:\n    final_status: error\n")}},
			path:   "formbot.yaml",
			expErr: true,
		},

		"Invalid YAML should fail": {
			fs:     fstest.MapFS{"formbot.yaml": &fstest.MapFile{Data: []byte("engine: [")}},
			path:   "formbot.yaml",
			expErr: true,
		},

		"A missing file should fail": {
			fs:     fstest.MapFS{},
			path:   "formbot.yaml",
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			repo := NewConfigYAMLRepository(test.fs)

			cfg, err := repo.GetServerConfig(context.Background(), test.path)
			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expCfg, cfg)
		})
	}
}

func TestConfigYAMLRepositoryGetScenario(t *testing.T) {
	tests := map[string]struct {
		data        string
		expScenario model.EngineScenario
		expErr      bool
	}{
		"A scenario should load": {
			data: `
streaming_url: https://live.example.com/demo
step_delay: 1s
final_status: completed
fields:
  - name: business_name
    email_key: business name
    required: true
  - name: industry
  - name: phone
    required: true
    explanation: Phone is not on the email
`,
			expScenario: model.EngineScenario{
				StreamingURL: "https://live.example.com/demo",
				StepDelay:    time.Second,
				FinalStatus:  model.RunStatusCompleted,
				Fields: []model.ScenarioField{
					{Name: "business_name", EmailKey: "business name", Required: true},
					{Name: "industry"},
					{Name: "phone", Required: true, Explanation: "Phone is not on the email"},
				},
			},
		},

		"A scenario failing at a terminal status should fail": {
			data:   "fail_at: completed\n",
			expErr: true,
		},

		"A scenario with repeated fields should fail": {
			data:   "fields:\n  - name: a\n  - name: a\n",
			expErr: true,
		},

		"A scenario with an unnamed field should fail": {
			data:   "fields:\n  - required: true\n",
			expErr: true,
		},

		"A scenario with an invalid delay should fail": {
			data:   "step_delay: fast\n",
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			repo := NewConfigYAMLRepository(fstest.MapFS{"scenario.yaml": &fstest.MapFile{Data: []byte(test.data)}})

			s, err := repo.GetScenario(context.Background(), "scenario.yaml")
			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expScenario, s)
		})
	}
}
