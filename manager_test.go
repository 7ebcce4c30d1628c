package components_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	components "github.com/centraunit/goallin_components"
	"github.com/centraunit/goallin_components/mock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
)

type ManagerTestSuite struct {
	suite.Suite
}

func (s *ManagerTestSuite) config(names ...string) *components.Config {
	config := components.DefaultConfig()
	config.ProgressPeriod = time.Second
	for _, name := range names {
		config.Components = append(config.Components, components.ComponentConfig{Name: name})
	}
	return config
}

func (s *ManagerTestSuite) TestRunAndShutdown() {
	recorder := &mock.Recorder{}
	manager := components.NewManager(s.config("A", "B", "worker"), zaptest.NewLogger(s.T()))

	s.Require().NoError(manager.RegisterComponent("A", mock.Factory(recorder, "A", "B")))
	s.Require().NoError(manager.RegisterComponent("B", mock.Factory(recorder, "B")))

	var worker *mock.Worker
	s.Require().NoError(manager.RegisterComponent("worker", func(ctx *components.ComponentContext) (components.Component, error) {
		component, err := mock.NewWorkerFactory("main", 5)(ctx)
		if err != nil {
			return nil, err
		}
		worker = component.(*mock.Worker)
		return component, nil
	}))

	s.Require().NoError(manager.Run())
	s.NotNil(manager.Context())

	s.Less(recorder.Index("build:B"), recorder.Index("build:A"))
	s.Less(recorder.Index("loaded:B"), recorder.Index("loaded:A"))

	s.NoError(manager.Shutdown(context.Background()))
	s.Equal(5, worker.Ran())
	s.Less(recorder.Index("stopping:A"), recorder.Index("stopping:B"))
	s.Less(recorder.Index("close:A"), recorder.Index("close:B"))
}

func (s *ManagerTestSuite) TestRunRejectsMissingFactory() {
	manager := components.NewManager(s.config("A"), zaptest.NewLogger(s.T()))
	err := manager.Run()
	var unknown *components.UnknownComponentError
	s.ErrorAs(err, &unknown)
	s.Equal("A", unknown.Name)
}

func (s *ManagerTestSuite) TestRunTwiceFails() {
	manager := components.NewManager(s.config(), zaptest.NewLogger(s.T()))
	s.Require().NoError(manager.Run())
	s.Error(manager.Run())
	s.NoError(manager.Shutdown(context.Background()))
}

func (s *ManagerTestSuite) TestRegisterAfterRunFails() {
	manager := components.NewManager(s.config(), zaptest.NewLogger(s.T()))
	s.Require().NoError(manager.Run())
	s.Error(manager.RegisterComponent("late", mock.Factory(nil, "late")))
	s.NoError(manager.Shutdown(context.Background()))
}

func (s *ManagerTestSuite) TestDuplicateRegistration() {
	manager := components.NewManager(s.config("A"), zaptest.NewLogger(s.T()))
	s.Require().NoError(manager.RegisterComponent("A", mock.Factory(nil, "A")))
	err := manager.RegisterComponent("A", mock.Factory(nil, "A"))
	var duplicate *components.DuplicateComponentError
	s.ErrorAs(err, &duplicate)
}

func (s *ManagerTestSuite) TestFactoryFailureCancelsLoad() {
	recorder := &mock.Recorder{}
	manager := components.NewManager(s.config("A", "B", "C"), zaptest.NewLogger(s.T()))

	boom := errors.New("no database")
	s.Require().NoError(manager.RegisterComponent("A", mock.Factory(recorder, "A", "B", "C")))
	s.Require().NoError(manager.RegisterComponent("B", mock.Factory(recorder, "B")))
	s.Require().NoError(manager.RegisterComponent("C", mock.FailingFactory(boom)))

	err := manager.Run()
	s.Require().Error(err)
	s.ErrorIs(err, boom)
	var failed *components.ComponentConstructionFailedError
	s.ErrorAs(err, &failed)
	s.Equal("C", failed.Name)

	// A never finished construction; its lookup of C woke with cancellation.
	s.Equal(-1, recorder.Index("build:A"))

	s.NoError(manager.Shutdown(context.Background()))
}

func (s *ManagerTestSuite) TestFailedStartStopsRunningComponents() {
	recorder := &mock.Recorder{}
	manager := components.NewManager(s.config("A", "B"), zaptest.NewLogger(s.T()))

	refusing := errors.New("refusing to start")
	s.Require().NoError(manager.RegisterComponent("A", mock.Factory(recorder, "A")))
	s.Require().NoError(manager.RegisterComponent("B", mock.ServiceFactory(&mock.Service{
		ServiceName: "B",
		Recorder:    recorder,
		FailLoaded:  refusing,
	})))

	s.ErrorIs(manager.Run(), refusing)

	// Components that reached running are told to stop before being released.
	s.GreaterOrEqual(recorder.Index("stopping:A"), 0)
	s.Less(recorder.Index("stopping:A"), recorder.Index("close:A"))
	s.Less(recorder.Index("stopping:B"), recorder.Index("close:B"))

	s.NoError(manager.Shutdown(context.Background()))
}

func (s *ManagerTestSuite) TestNewManagerFromConfig() {
	path := filepath.Join(s.T().TempDir(), "service.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(`
log_level: warn
components:
  - name: storage
`), 0o644))

	manager, err := components.NewManagerFromConfig(path)
	s.Require().NoError(err)
	s.Equal("warn", manager.Config().LogLevel)

	s.Require().NoError(manager.RegisterComponent("storage", mock.Factory(nil, "storage")))
	s.Require().NoError(manager.Run())
	s.NoError(manager.Shutdown(context.Background()))
}

func (s *ManagerTestSuite) TestComponentOptions() {
	config := s.config()
	config.Components = append(config.Components, components.ComponentConfig{
		Name:    "A",
		Options: map[string]any{"dsn": "postgres://localhost/app"},
	})
	manager := components.NewManager(config, zaptest.NewLogger(s.T()))

	s.Require().NoError(manager.RegisterComponent("A", func(ctx *components.ComponentContext) (components.Component, error) {
		options := ctx.GetManager().ComponentOptions("A")
		if options["dsn"] != "postgres://localhost/app" {
			return nil, errors.New("missing dsn option")
		}
		return &mock.Service{ServiceName: "A"}, nil
	}))
	s.Require().NoError(manager.Run())
	s.Nil(manager.ComponentOptions("missing"))
	s.NoError(manager.Shutdown(context.Background()))
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}
