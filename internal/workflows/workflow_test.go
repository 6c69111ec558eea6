package workflows_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap/zaptest"

	"github.com/nucleus/metadata-extractor/internal/activities"
	"github.com/nucleus/metadata-extractor/internal/credentials"
	"github.com/nucleus/metadata-extractor/internal/errkind"
	"github.com/nucleus/metadata-extractor/internal/logging"
	"github.com/nucleus/metadata-extractor/internal/objectstore"
	"github.com/nucleus/metadata-extractor/internal/source"
	"github.com/nucleus/metadata-extractor/internal/source/sourcetest"
	"github.com/nucleus/metadata-extractor/internal/workflows"
)

type ExtractionSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite

	env    *testsuite.TestWorkflowEnvironment
	engine *sourcetest.Engine
	creds  *credentials.MemoryStore
	store  *objectstore.LocalStore
	guid   string
	prefix string
}

func TestExtractionSuite(t *testing.T) {
	suite.Run(t, new(ExtractionSuite))
}

func (s *ExtractionSuite) SetupTest() {
	logger := zaptest.NewLogger(s.T())
	s.SetLogger(logging.NewTemporalLogger(logger))

	s.engine = sourcetest.NewEngine().
		AddSchema("mydb", "public").
		AddSchema("mydb", "other").
		AddTable("mydb", "public", "orders").
		AddTable("mydb", "public", "customers").
		AddTable("mydb", "other", "audit").
		AddColumn("mydb", "public", "orders", "id", 1, "integer").
		AddColumn("mydb", "other", "audit", "id", 1, "integer").
		Add(sourcetest.KindDatabase, source.RecordOf("datname", "mydb"))

	s.creds = credentials.NewMemoryStore()
	guid, err := s.creds.Put(context.Background(), sourcetest.Credential())
	s.Require().NoError(err)
	s.guid = guid

	s.store = objectstore.NewLocalStore(s.T().TempDir())
	s.prefix = s.T().TempDir()

	acts := activities.New(activities.Deps{
		Credentials:       s.creds,
		Connector:         s.engine,
		Catalog:           sourcetest.Catalog(),
		DefaultDialect:    sourcetest.DialectName,
		Pusher:            objectstore.NewPusher(s.store, "metadata", objectstore.PusherOptions{Concurrency: 2}, logger),
		BatchSize:         10,
		Logger:            logger,
		HeartbeatInterval: time.Hour,
	})

	s.env = s.NewTestWorkflowEnvironment()
	workflows.Register(s.env, workflows.New(sourcetest.Catalog(), sourcetest.DialectName), acts)
}

func (s *ExtractionSuite) AfterTest(_, _ string) {
	s.env.AssertExpectations(s.T())
}

func (s *ExtractionSuite) config(include string) workflows.WorkflowConfig {
	return workflows.WorkflowConfig{
		CredentialGUID: s.guid,
		IncludeFilter:  include,
		ExcludeFilter:  "{}",
		OutputPrefix:   s.prefix,
		KeepOutput:     true,
	}
}

func (s *ExtractionSuite) result() *workflows.Result {
	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())
	var res workflows.Result
	s.Require().NoError(s.env.GetWorkflowResult(&res))
	return &res
}

func (s *ExtractionSuite) state() workflows.Status {
	val, err := s.env.QueryWorkflow(workflows.StateQuery)
	s.Require().NoError(err)
	var status workflows.Status
	s.Require().NoError(val.Get(&status))
	return status
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return len(strings.Split(strings.TrimRight(string(data), "\n"), "\n"))
}

func (s *ExtractionSuite) TestEndToEnd() {
	s.env.ExecuteWorkflow(workflows.ExtractionWorkflowName, s.config(`{"mydb":["public"]}`))

	res := s.result()
	s.Equal(filepath.Join(s.prefix, "default-test-workflow-id", "default-test-run-id"), res.OutputPath)
	s.Equal(map[string]activities.Summary{
		"database":  {Raw: 1, Transformed: 1},
		"schema":    {Raw: 1, Transformed: 1},
		"table":     {Raw: 2, Transformed: 2},
		"column":    {Raw: 1, Transformed: 1},
		"procedure": {},
	}, res.Summary)
	s.Equal(2, countLines(s.T(), filepath.Join(res.OutputPath, "raw", "table-0.json")))

	keys, err := s.store.ListPrefix(context.Background(), "metadata", "default-test-workflow-id/")
	s.Require().NoError(err)
	s.Contains(keys, "default-test-workflow-id/default-test-run-id/raw/table-0.json")
	s.Equal(res.Objects, len(keys))

	status := s.state()
	s.Equal(workflows.StateCompleted, status.State)
	s.Equal(res.Summary, status.Summary)

	_, err = s.creds.Get(context.Background(), s.guid)
	s.ErrorIs(err, credentials.ErrNotFound)
}

func (s *ExtractionSuite) TestTeardownRemovesOutput() {
	cfg := s.config(`{"mydb":[]}`)
	cfg.KeepOutput = false
	s.env.ExecuteWorkflow(workflows.ExtractionWorkflowName, cfg)

	res := s.result()
	s.NoDirExists(res.OutputPath)
	s.Equal(activities.Summary{Raw: 3, Transformed: 3}, res.Summary["table"])
}

func (s *ExtractionSuite) TestRetriesAreTransparent() {
	s.engine.FailNext(sourcetest.KindTable, 2)

	s.env.ExecuteWorkflow(workflows.ExtractionWorkflowName, s.config(`{"mydb":["public"]}`))

	res := s.result()
	s.Equal(3, s.engine.Calls(sourcetest.KindTable))
	s.Equal(activities.Summary{Raw: 2, Transformed: 2}, res.Summary["table"])
	s.Equal(workflows.StateCompleted, s.state().State)
}

func (s *ExtractionSuite) TestPreflightFailureFailsRun() {
	s.env.ExecuteWorkflow(workflows.ExtractionWorkflowName, s.config(`{"mydb":["sales"]}`))

	s.Require().True(s.env.IsWorkflowCompleted())
	err := s.env.GetWorkflowError()
	s.Require().Error(err)
	var appErr *temporal.ApplicationError
	s.Require().True(errors.As(err, &appErr))
	s.Equal(errkind.TypePreflight, appErr.Type())
	s.Contains(appErr.Error(), "mydb.sales schema")

	s.Equal(0, s.engine.Calls(sourcetest.KindTable))
	status := s.state()
	s.Equal(workflows.StateFailed, status.State)
	s.Contains(status.Error, "mydb.sales schema")

	// Failed runs keep their credential.
	_, err = s.creds.Get(context.Background(), s.guid)
	s.NoError(err)
}

func (s *ExtractionSuite) TestMalformedFilterIsConfigError() {
	s.env.ExecuteWorkflow(workflows.ExtractionWorkflowName, s.config(`["mydb"]`))

	var appErr *temporal.ApplicationError
	s.Require().True(errors.As(s.env.GetWorkflowError(), &appErr))
	s.Equal(errkind.TypeConfig, appErr.Type())
	s.Equal(0, s.engine.Calls(sourcetest.KindSchemata))
}

func (s *ExtractionSuite) TestFetchToggles() {
	off := false
	cfg := s.config(`{"mydb":["public"]}`)
	cfg.FetchColumns = &off
	cfg.FetchProcedures = &off

	s.env.ExecuteWorkflow(workflows.ExtractionWorkflowName, cfg)

	res := s.result()
	s.NotContains(res.Summary, "column")
	s.NotContains(res.Summary, "procedure")
	s.Equal(0, s.engine.Calls(sourcetest.KindColumn))
}

func (s *ExtractionSuite) TestTypeFailureFailsRun() {
	s.env.OnActivity(activities.ExtractMetadataName, mock.Anything, mock.MatchedBy(func(cfg activities.ExtractionConfig) bool {
		return cfg.TypeName == "column"
	})).Return(activities.Summary{}, temporal.NewNonRetryableApplicationError("column query rejected", errkind.TypeConfig, nil))
	s.env.OnActivity(activities.ExtractMetadataName, mock.Anything, mock.Anything).Return(activities.Summary{Raw: 1}, nil)

	s.env.ExecuteWorkflow(workflows.ExtractionWorkflowName, s.config(`{"mydb":["public"]}`))

	err := s.env.GetWorkflowError()
	s.Require().Error(err)
	s.Contains(err.Error(), "column query rejected")

	status := s.state()
	s.Equal(workflows.StateFailed, status.State)
	s.Empty(status.Summary)
}

func (s *ExtractionSuite) TestCancelStopsExtraction() {
	gate := s.engine.Hold(sourcetest.KindTable)

	var mu sync.Mutex
	var tableCtx context.Context
	s.env.SetOnActivityStartedListener(func(info *activity.Info, ctx context.Context, args converter.EncodedValues) {
		if info.ActivityType.Name != activities.ExtractMetadataName {
			return
		}
		var cfg activities.ExtractionConfig
		if args.Get(&cfg) == nil && cfg.TypeName == sourcetest.KindTable {
			mu.Lock()
			tableCtx = ctx
			mu.Unlock()
		}
	})
	s.env.SetOnActivityCanceledListener(func(info *activity.Info) {
		if info.ActivityType.Name == activities.ExtractMetadataName {
			gate.Release()
		}
	})
	go func() {
		<-gate.Entered()
		s.env.CancelWorkflow()
	}()

	cfg := s.config(`{"mydb":["public"]}`)
	cfg.BatchSize = 1
	s.env.ExecuteWorkflow(workflows.ExtractionWorkflowName, cfg)
	gate.Release()

	s.Require().True(s.env.IsWorkflowCompleted())
	s.True(temporal.IsCanceledError(s.env.GetWorkflowError()))
	s.Equal(workflows.StateFailed, s.state().State)

	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return tableCtx != nil && tableCtx.Err() != nil && s.engine.Open() == 0
	}, 5*time.Second, 10*time.Millisecond)

	output := filepath.Join(s.prefix, "default-test-workflow-id", "default-test-run-id")
	s.NoFileExists(filepath.Join(output, "table-chunks.txt"))
	s.NoFileExists(filepath.Join(output, "raw", "table-1.json"))
}

type recordingRegistry struct {
	workflows  []string
	activities []string
}

func (r *recordingRegistry) RegisterWorkflowWithOptions(_ interface{}, options workflow.RegisterOptions) {
	r.workflows = append(r.workflows, options.Name)
}

func (r *recordingRegistry) RegisterActivityWithOptions(_ interface{}, options activity.RegisterOptions) {
	r.activities = append(r.activities, options.Name)
}

func TestActivityDefinitions(t *testing.T) {
	acts := activities.New(activities.Deps{})
	defs := workflows.ActivityDefinitions(acts)

	var names []string
	for _, def := range defs {
		names = append(names, def.Name)
		assert.NotNil(t, def.Fn, def.Name)
		assert.Positive(t, def.Options.StartToCloseTimeout, def.Name)
		require.NotNil(t, def.Options.RetryPolicy, def.Name)
		assert.ElementsMatch(t, []string{errkind.TypeConfig, errkind.TypePreflight},
			def.Options.RetryPolicy.NonRetryableErrorTypes, def.Name)
		if def.Name == activities.ExtractMetadataName {
			assert.Equal(t, time.Minute, def.Options.HeartbeatTimeout)
		}
	}

	var r recordingRegistry
	workflows.Register(&r, workflows.New(sourcetest.Catalog(), sourcetest.DialectName), acts)
	assert.Equal(t, []string{workflows.ExtractionWorkflowName}, r.workflows)
	assert.Equal(t, names, r.activities)
	assert.Contains(t, r.activities, activities.ReleaseCredentialName)
}
