package start_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/formbot/internal/app/start"
	"github.com/slok/formbot/internal/log"
	"github.com/slok/formbot/internal/model"
	"github.com/slok/formbot/internal/storage/storagemock"
)

type mockStarter struct {
	mock.Mock
}

func (m *mockStarter) Start(ctx context.Context, sc model.StartContext) (*model.AutomationRun, error) {
	args := m.Called(ctx, sc)
	run, _ := args.Get(0).(*model.AutomationRun)
	return run, args.Error(1)
}

func TestNewService(t *testing.T) {
	tests := map[string]struct {
		config start.ServiceConfig
		expErr bool
	}{
		"valid config should create service": {
			config: start.ServiceConfig{
				Starter:     &mockStarter{},
				Credentials: &storagemock.MockCredentialsRepository{},
				Emails:      &storagemock.MockEmailRepository{},
				Logger:      log.Noop,
			},
		},
		"missing starter should fail": {
			config: start.ServiceConfig{
				Credentials: &storagemock.MockCredentialsRepository{},
				Emails:      &storagemock.MockEmailRepository{},
			},
			expErr: true,
		},
		"missing credentials repository should fail": {
			config: start.ServiceConfig{
				Starter: &mockStarter{},
				Emails:  &storagemock.MockEmailRepository{},
			},
			expErr: true,
		},
		"missing email repository should fail": {
			config: start.ServiceConfig{
				Starter:     &mockStarter{},
				Credentials: &storagemock.MockCredentialsRepository{},
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			svc, err := start.NewService(test.config)
			if test.expErr {
				require.Error(err)
			} else {
				require.NoError(err)
				require.NotNil(svc)
			}
		})
	}
}

func TestServiceRun(t *testing.T) {
	creds := &model.Credentials{DestinationURL: "https://app.example.com", Username: "agent", Password: "secret"}
	email := &model.EmailContent{Subject: "New applicant", Body: "Business Name: ACME"}
	run := &model.AutomationRun{ID: "run-1", Status: model.RunStatusInitializing}

	tests := map[string]struct {
		mock     func(ms *mockStarter, mc *storagemock.MockCredentialsRepository, me *storagemock.MockEmailRepository)
		expRun   *model.AutomationRun
		expErr   bool
		expErrIs error
	}{
		"Starting should use the stored credentials and email": {
			mock: func(ms *mockStarter, mc *storagemock.MockCredentialsRepository, me *storagemock.MockEmailRepository) {
				mc.On("GetCredentials", mock.Anything).Once().Return(creds, nil)
				me.On("GetEmailContent", mock.Anything).Once().Return(email, nil)
				ms.On("Start", mock.Anything, model.StartContext{Credentials: *creds, Email: email}).Once().Return(run, nil)
			},
			expRun: run,
		},

		"Starting without stored data should start anyway": {
			mock: func(ms *mockStarter, mc *storagemock.MockCredentialsRepository, me *storagemock.MockEmailRepository) {
				mc.On("GetCredentials", mock.Anything).Once().Return(nil, model.ErrNotFound)
				me.On("GetEmailContent", mock.Anything).Once().Return(nil, model.ErrNotFound)
				ms.On("Start", mock.Anything, model.StartContext{}).Once().Return(run, nil)
			},
			expRun: run,
		},

		"Starting while a run is active should fail with already running": {
			mock: func(ms *mockStarter, mc *storagemock.MockCredentialsRepository, me *storagemock.MockEmailRepository) {
				mc.On("GetCredentials", mock.Anything).Once().Return(creds, nil)
				me.On("GetEmailContent", mock.Anything).Once().Return(email, nil)
				ms.On("Start", mock.Anything, mock.Anything).Once().Return(nil, model.ErrAlreadyRunning)
			},
			expErr:   true,
			expErrIs: model.ErrAlreadyRunning,
		},

		"A credentials storage error should fail": {
			mock: func(ms *mockStarter, mc *storagemock.MockCredentialsRepository, me *storagemock.MockEmailRepository) {
				mc.On("GetCredentials", mock.Anything).Once().Return(nil, errors.New("database is locked"))
			},
			expErr: true,
		},

		"An email storage error should fail": {
			mock: func(ms *mockStarter, mc *storagemock.MockCredentialsRepository, me *storagemock.MockEmailRepository) {
				mc.On("GetCredentials", mock.Anything).Once().Return(creds, nil)
				me.On("GetEmailContent", mock.Anything).Once().Return(nil, errors.New("database is locked"))
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			ms := &mockStarter{}
			mc := storagemock.NewMockCredentialsRepository(t)
			me := storagemock.NewMockEmailRepository(t)
			test.mock(ms, mc, me)

			svc, err := start.NewService(start.ServiceConfig{Starter: ms, Credentials: mc, Emails: me})
			require.NoError(err)

			got, err := svc.Run(context.Background())
			if test.expErr {
				assert.Error(err)
				if test.expErrIs != nil {
					assert.ErrorIs(err, test.expErrIs)
				}
				return
			}
			require.NoError(err)
			assert.Equal(test.expRun, got)
			ms.AssertExpectations(t)
		})
	}
}
