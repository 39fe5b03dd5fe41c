package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FundGuard/internal/domain/models"
	"FundGuard/internal/statemachine"
)

func TestParseFillsDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "sqlite", c.Backend.Type)
	assert.Equal(t, "TOSS", c.Oracle.StakeToken)
	assert.Equal(t, 10*time.Minute, c.Oracle.MaxStaleness)
	assert.Equal(t, statemachine.DefaultThresholds(), c.StateMachine)
	assert.Len(t, c.Risk.Tiers, 3)

	p, err := c.RiskParams()
	require.NoError(t, err)
	_, err = models.NewRiskConfig(1, p)
	assert.NoError(t, err, "stock risk section must be inside governance bounds")
}

func TestParseKeepsExplicitValues(t *testing.T) {
	c, err := Parse([]byte(`
environment: prod
risk:
  gamma: 60
  alpha: "1.5"
  weights: {l: 40, b: 20, d: 20, i: 20}
state_machine:
  wbr: 0.4
  limited_clean_period: 240h
`))
	require.NoError(t, err)
	assert.Equal(t, 60, c.Risk.Gamma)
	assert.Equal(t, models.Weights{L: 40, B: 20, D: 20, I: 20}, c.Risk.Weights)
	assert.Equal(t, 0.4, c.StateMachine.WBR)
	assert.Equal(t, 0.7, c.StateMachine.DVR)
	assert.Equal(t, 240*time.Hour, c.StateMachine.LimitedCleanPeriod)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"unknown backend":       "environment: x\nbackend: {type: mongo}\n",
		"kafka without brokers": "environment: x\nbackend: {type: kafka}\n",
		"clickhouse no host":    "environment: x\nbackend: {type: clickhouse}\n",
		"queue without redis":   "environment: x\nqueue: {enabled: true}\n",
		"fresh beyond stale":    "environment: x\noracle: {fresh_window: 1h, max_staleness: 1m}\n",
		"bad tier":              "environment: x\nrisk: {tiers: [{id: 0, max_position_pct: 1}]}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	env := map[string]string{
		"FUNDGUARD_BACKEND": "kafka",
		"KAFKA_BROKERS":     "k1:9092,k2:9092",
		"REDIS_ADDR":        "redis:6379",
		"SQLITE_PATH":       "/data/fg.db",
	}
	c.applyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "kafka", c.Backend.Type)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.True(t, c.Kafka.Enabled)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "/data/fg.db", c.SQLite.Path)
	assert.NoError(t, c.Validate())
}

func TestRiskParamsBadAlpha(t *testing.T) {
	c, err := Parse([]byte("environment: test\nrisk: {alpha: abc}\n"))
	require.NoError(t, err)
	_, err = c.RiskParams()
	var pe *models.PreconditionError
	assert.ErrorAs(t, err, &pe)
}

func TestLoadSampleConfig(t *testing.T) {
	c, err := Load("../../config/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", c.Backend.Type)
	assert.Equal(t, []string{"ETH", "BTC"}, c.Oracle.Assets)

	params, err := c.RiskParams()
	require.NoError(t, err)
	_, err = models.NewRiskConfig(1, params)
	require.NoError(t, err)
}
