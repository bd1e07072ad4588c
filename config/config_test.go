package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, `
log_level: debug
scenario:
  reference_date: 2023-01-17
  names: [a, b]
  hazard_rates: [0.01, 0.02]
  notionals: [100, 50]
  recoveries: [0.4, 0.3]
  attach: 0
  detach: 0.1
  models: [lhp, random]
  cdo:
    running_rate: 0.05
    tenor: 3M
    day_count: ACT/360
    engine: integral
    step: 1M
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "console", cfg.LogFormat)
	require.Equal(t, []string{"a", "b"}, cfg.Scenario.Names)
	require.Equal(t, 0.1, cfg.Scenario.Detach)
	require.Equal(t, "5Y", cfg.Scenario.Horizon)
	require.Equal(t, "integral", cfg.Scenario.CDO.Engine)
	require.Nil(t, cfg.Scenario.BaseCorr)
}

func TestLoadUnknownField(t *testing.T) {
	path := writeFile(t, "scenario:\n  detatch: 0.1\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BASKET_LOG_LEVEL", "warn")
	t.Setenv("BASKET_HTTP_ADDR", ":9090")
	t.Setenv("BASKET_SEED", "7")
	t.Setenv("BASKET_SIMULATIONS", "5000")
	t.Setenv("BASKET_API_KEY_HASH", "$2a$04$hash")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, ":9090", cfg.HTTPAddr)
	require.Equal(t, uint64(7), cfg.Scenario.Seed)
	require.Equal(t, 5000, cfg.Scenario.Simulations)
	require.Equal(t, "$2a$04$hash", cfg.APIKeyHash)

	t.Setenv("BASKET_SEED", "minus one")
	_, err = Load("")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	type testCases struct {
		name   string
		mutate func(s *Scenario)
		ok     bool
	}
	for _, test := range []testCases{
		{name: "default", mutate: func(s *Scenario) {}, ok: true},
		{name: "bad date", mutate: func(s *Scenario) { s.ReferenceDate = "17/01/2023" }},
		{name: "no names", mutate: func(s *Scenario) { s.Names = nil }},
		{name: "size mismatch", mutate: func(s *Scenario) { s.Notionals = s.Notionals[1:] }},
		{name: "recovery above one", mutate: func(s *Scenario) { s.Recoveries[0] = 1.5 }},
		{name: "inverted tranche", mutate: func(s *Scenario) { s.Attach, s.Detach = 0.06, 0.03 }},
		{name: "unit correlation", mutate: func(s *Scenario) { s.Correlation = 1 }},
		{name: "bad horizon", mutate: func(s *Scenario) { s.Horizon = "five years" }},
		{name: "unknown model", mutate: func(s *Scenario) { s.Models = []string{"vasicek"} }},
		{name: "duplicate model", mutate: func(s *Scenario) { s.Models = []string{ModelLHP, ModelLHP} }},
		{name: "random without simulations", mutate: func(s *Scenario) {
			s.Models = []string{ModelRandom}
			s.Simulations = 1
		}},
		{name: "too many simulations", mutate: func(s *Scenario) {
			s.Models = []string{ModelRandom}
			s.Simulations = MaxSimulations + 1
		}},
		{name: "too many buckets", mutate: func(s *Scenario) {
			s.Models = []string{ModelInhomogeneous}
			s.Buckets = MaxBuckets + 1
		}},
		{name: "base correlation with too many buckets", mutate: func(s *Scenario) {
			s.Models = []string{ModelBaseCorr}
			s.Buckets = MaxBuckets + 1
			s.BaseCorr = &BaseCorr{Kind: "inhomogeneous-pool", Tenors: []string{"5Y"}, LossLevels: []float64{0.03, 0.06}, Correlations: [][]float64{{0.2, 0.3}}}
		}},
		{name: "base correlation without surface", mutate: func(s *Scenario) { s.Models = []string{ModelBaseCorr} }},
		{name: "ragged surface", mutate: func(s *Scenario) {
			s.Models = []string{ModelBaseCorr}
			s.BaseCorr = &BaseCorr{Kind: "lhp", Tenors: []string{"5Y"}, LossLevels: []float64{0.03, 0.06}, Correlations: [][]float64{{0.2}}}
		}},
		{name: "surface", ok: true, mutate: func(s *Scenario) {
			s.Models = []string{ModelBaseCorr}
			s.BaseCorr = &BaseCorr{Kind: "lhp", Tenors: []string{"5Y"}, LossLevels: []float64{0.03, 0.06}, Correlations: [][]float64{{0.2, 0.3}}}
		}},
		{name: "bad cdo side", mutate: func(s *Scenario) {
			s.CDO = &CDO{Tenor: "3M", Side: "long"}
		}},
		{name: "unknown calendar", mutate: func(s *Scenario) {
			s.CDO = &CDO{Tenor: "3M", Calendar: "lse"}
		}},
		{name: "integral without step", mutate: func(s *Scenario) {
			s.CDO = &CDO{Tenor: "3M", Engine: "integral"}
		}},
	} {
		t.Run(test.name, func(t *testing.T) {
			s := Default().Scenario
			test.mutate(&s)
			err := s.Validate()
			if test.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadExample(t *testing.T) {
	cfg, err := Load("../scenario.yaml")
	require.NoError(t, err)
	require.Len(t, cfg.Scenario.Models, 8)
	require.Equal(t, "nyse", cfg.Scenario.CDO.Calendar)
	require.Equal(t, "lhp", cfg.Scenario.BaseCorr.Kind)
}
