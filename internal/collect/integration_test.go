//go:build integration

package collect

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tsuite "github.com/stretchr/testify/suite"
	tc "github.com/testcontainers/testcontainers-go"
	tcpsql "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/koltyakov/pgdiag/internal/conn"
	perrors "github.com/koltyakov/pgdiag/internal/errors"
	"github.com/koltyakov/pgdiag/internal/logging"
	"github.com/koltyakov/pgdiag/internal/probe"
)

const (
	itUser     = "diag"
	itPassword = "diag-secret"
	itDatabase = "dev"
)

func containerProvider() tc.ProviderType {
	if _, err := exec.LookPath("podman"); err == nil {
		fmt.Println("Podman detected. Remember to set TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED=true;")
		return tc.ProviderPodman
	}
	return tc.ProviderDocker
}

func startPostgres(ctx context.Context, extraArgs ...string) (*tcpsql.PostgresContainer, conn.Config, error) {
	req := tc.GenericContainerRequest{ProviderType: containerProvider()}
	req.Cmd = extraArgs

	ctr, err := tcpsql.Run(
		ctx,
		"postgres:16-alpine",
		tcpsql.BasicWaitStrategies(),
		tc.CustomizeRequest(req),
		tcpsql.WithDatabase(itDatabase),
		tcpsql.WithUsername(itUser),
		tcpsql.WithPassword(itPassword),
	)
	if err != nil {
		return nil, conn.Config{}, err
	}

	host, err := ctr.Host(ctx)
	if err != nil {
		return ctr, conn.Config{}, err
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return ctr, conn.Config{}, err
	}

	return ctr, conn.Config{
		Host:           host,
		Port:           port.Int(),
		User:           itUser,
		Password:       itPassword,
		DBName:         itDatabase,
		SSLMode:        "disable",
		ConnectTimeout: 10 * time.Second,
	}, nil
}

// CollectTestSuite runs the collector against a stock postgres server
// without pg_stat_statements preloaded.
type CollectTestSuite struct {
	tsuite.Suite
	ctx context.Context
	ctr *tcpsql.PostgresContainer
	cfg conn.Config
}

func TestCollectTestSuite(t *testing.T) {
	tsuite.Run(t, new(CollectTestSuite))
}

func (suite *CollectTestSuite) SetupSuite() {
	suite.ctx = context.Background()
	ctr, cfg, err := startPostgres(suite.ctx)
	suite.Require().NoError(err)
	suite.ctr = ctr
	suite.cfg = cfg
}

func (suite *CollectTestSuite) TearDownSuite() {
	tc.CleanupContainer(suite.T(), suite.ctr)
}

func (suite *CollectTestSuite) TestMissingStatementsExtension() {
	t := suite.T()

	for _, driver := range conn.Drivers {
		t.Run(driver, func(t *testing.T) {
			var buf bytes.Buffer
			log := logging.New(logging.Config{Level: "info", Format: "text", Output: &buf})
			cfg := suite.cfg
			cfg.Driver = driver

			rep, err := Run(suite.ctx, cfg, Config{}, log)
			require.NoError(t, err)

			version, ok := rep.Version()
			require.True(t, ok)
			v, _ := version.Get("version")
			assert.True(t, strings.HasPrefix(v.(string), "PostgreSQL 16"), v)
			assert.Equal(t, "16", rep.Meta.ServerVersion[:2])

			assert.NotNil(t, rep.Statements())
			assert.Empty(t, rep.Statements())
			assert.Equal(t, []string{probe.StatementsProbe}, rep.Failed())

			lines := errorLines(&buf)
			require.Len(t, lines, 1)
			assert.Contains(t, lines[0], "pg_stat_statements")
			assert.Contains(t, lines[0], "sqlstate=42P01")
			assert.NotContains(t, buf.String(), itPassword)
		})
	}
}

func (suite *CollectTestSuite) TestExtendedProbes() {
	t := suite.T()

	rep, err := Run(suite.ctx, suite.cfg, Config{Extended: true, ProbeTimeout: 30 * time.Second}, logging.NewNop())
	require.NoError(t, err)

	for _, name := range []string{probe.ConnectionProbe, probe.DatabasesProbe, probe.SettingsProbe} {
		e, ok := rep.Get(name)
		require.True(t, ok, name)
		assert.True(t, e.Available(), name)
	}

	dbs, _ := rep.Get(probe.DatabasesProbe)
	var names []string
	for _, rec := range dbs.Records {
		n, _ := rec.Get("name")
		names = append(names, fmt.Sprint(n))
	}
	assert.Contains(t, names, itDatabase)
}

func (suite *CollectTestSuite) TestWrongPassword() {
	t := suite.T()
	cfg := suite.cfg
	cfg.Password = "wrong"

	_, err := Run(suite.ctx, cfg, Config{}, logging.NewNop())

	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrConnectionFailed)
	assert.NotContains(t, err.Error(), "wrong")
}

// StatementsTestSuite runs against a server with pg_stat_statements
// preloaded and installed.
type StatementsTestSuite struct {
	tsuite.Suite
	ctx context.Context
	ctr *tcpsql.PostgresContainer
	cfg conn.Config
}

func TestStatementsTestSuite(t *testing.T) {
	tsuite.Run(t, new(StatementsTestSuite))
}

func (suite *StatementsTestSuite) SetupSuite() {
	suite.ctx = context.Background()
	ctr, cfg, err := startPostgres(suite.ctx, "-c", "shared_preload_libraries=pg_stat_statements")
	suite.Require().NoError(err)
	suite.ctr = ctr
	suite.cfg = cfg

	err = conn.WithSession(suite.ctx, cfg, func(s *conn.Session) error {
		for _, q := range []string{
			"CREATE EXTENSION IF NOT EXISTS pg_stat_statements",
			"SELECT pg_stat_statements_reset()",
			"CREATE TABLE items (id int primary key, name text)",
			"INSERT INTO items SELECT g, 'item ' || g FROM generate_series(1, 500) g",
			"SELECT count(*) FROM items WHERE name LIKE 'item 1%'",
		} {
			rows, err := s.QueryContext(suite.ctx, q)
			if err != nil {
				return fmt.Errorf("%s: %w", q, err)
			}
			rows.Close()
		}
		return nil
	})
	suite.Require().NoError(err)
}

func (suite *StatementsTestSuite) TearDownSuite() {
	tc.CleanupContainer(suite.T(), suite.ctr)
}

func (suite *StatementsTestSuite) TestTopStatements() {
	t := suite.T()

	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "info", Format: "text", Output: &buf})

	rep, err := Run(suite.ctx, suite.cfg, Config{}, log)
	require.NoError(t, err)
	assert.Empty(t, errorLines(&buf))
	assert.Empty(t, rep.Failed())

	stmts := rep.Statements()
	require.NotEmpty(t, stmts)
	assert.LessOrEqual(t, len(stmts), probe.StatementsLimit)
	assert.Equal(t, []string{"query", "calls", "total_exec_time", "mean_exec_time", "rows"}, stmts.Columns())

	prev := -1.0
	for i, rec := range stmts {
		v, ok := rec.Get("total_exec_time")
		require.True(t, ok)
		total, ok := v.(float64)
		require.True(t, ok, "total_exec_time is %T", v)
		if i > 0 {
			assert.LessOrEqual(t, total, prev)
		}
		prev = total
	}
}
