// Package config loads pricing scenarios from YAML with environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/banachtech/basket-credit/basecorr"
	"github.com/banachtech/basket-credit/copula"
	"github.com/banachtech/basket-credit/utils"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid scenario")

// Upper bounds on the work a single scenario can ask for.
const (
	MaxSimulations = 1_000_000
	MaxBuckets     = 10_000
)

// Model names accepted in Scenario.Models.
const (
	ModelLHP           = "lhp"
	ModelBinomial      = "binomial"
	ModelTBinomial     = "t-binomial"
	ModelRecursive     = "recursive"
	ModelInhomogeneous = "inhomogeneous-pool"
	ModelHomogeneous   = "homogeneous-pool"
	ModelRandom        = "random"
	ModelBaseCorr      = "base-correlation"
)

var knownModels = []string{
	ModelLHP, ModelBinomial, ModelTBinomial, ModelRecursive,
	ModelInhomogeneous, ModelHomogeneous, ModelRandom, ModelBaseCorr,
}

type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	HTTPAddr  string `yaml:"http_addr"`
	// bcrypt hash of the API key; empty leaves the API open.
	APIKeyHash string   `yaml:"api_key_hash"`
	Scenario   Scenario `yaml:"scenario"`
}

// Scenario describes a basket, a tranche and the models to price it with.
// It doubles as the HTTP request body.
type Scenario struct {
	ReferenceDate string    `yaml:"reference_date" json:"reference_date"`
	Names         []string  `yaml:"names" json:"names"`
	HazardRates   []float64 `yaml:"hazard_rates" json:"hazard_rates"`
	Notionals     []float64 `yaml:"notionals" json:"notionals"`
	Recoveries    []float64 `yaml:"recoveries" json:"recoveries"`
	Attach        float64   `yaml:"attach" json:"attach"`
	Detach        float64   `yaml:"detach" json:"detach"`
	Correlation   float64   `yaml:"correlation" json:"correlation"`
	Horizon       string    `yaml:"horizon" json:"horizon"`
	Models        []string  `yaml:"models" json:"models"`
	Integration   string    `yaml:"integration" json:"integration"`
	Buckets       int       `yaml:"buckets" json:"buckets"`
	Simulations   int       `yaml:"simulations" json:"simulations"`
	Seed          uint64    `yaml:"seed" json:"seed"`
	TOrders       []float64 `yaml:"t_orders" json:"t_orders"`
	CDO           *CDO      `yaml:"cdo" json:"cdo,omitempty"`
	BaseCorr      *BaseCorr `yaml:"base_correlation" json:"base_correlation,omitempty"`
}

// CDO quotes a tranche on the scenario basket.
type CDO struct {
	RunningRate float64 `yaml:"running_rate" json:"running_rate"`
	UpfrontRate float64 `yaml:"upfront_rate" json:"upfront_rate"`
	Tenor       string  `yaml:"tenor" json:"tenor"`
	DayCount    string  `yaml:"day_count" json:"day_count"`
	Rate        float64 `yaml:"rate" json:"rate"`
	Side        string  `yaml:"side" json:"side"`
	Engine      string  `yaml:"engine" json:"engine"`
	Step        string  `yaml:"step" json:"step"`
	// Holiday calendar of the coupon schedule: "nyse" or empty for weekends only.
	Calendar string `yaml:"calendar" json:"calendar"`
}

// BaseCorr is a correlation grid indexed [tenor][loss level].
type BaseCorr struct {
	Kind         string      `yaml:"kind" json:"kind"`
	Tenors       []string    `yaml:"tenors" json:"tenors"`
	LossLevels   []float64   `yaml:"loss_levels" json:"loss_levels"`
	Correlations [][]float64 `yaml:"correlations" json:"correlations"`
	Extrapolate  bool        `yaml:"extrapolate" json:"extrapolate"`
}

// Default returns ten names with hazard rates 0.001 to 0.091, a [3%, 6%]
// tranche and a five year horizon.
func Default() Config {
	s := Scenario{
		ReferenceDate: time.Now().Format(utils.Layout),
		Attach:        0.03,
		Detach:        0.06,
		Correlation:   0.05,
		Horizon:       "5Y",
		Models:        []string{ModelLHP, ModelBinomial, ModelRecursive, ModelInhomogeneous},
		Integration:   "quadrature",
		Buckets:       100,
		Simulations:   100000,
		Seed:          42,
		TOrders:       []float64{5, 5},
	}
	for i := 0; i < 10; i++ {
		s.Names = append(s.Names, fmt.Sprintf("name%d", i))
		s.HazardRates = append(s.HazardRates, 0.001+0.01*float64(i))
		s.Notionals = append(s.Notionals, 100)
		s.Recoveries = append(s.Recoveries, 0.4)
	}
	return Config{LogLevel: "info", LogFormat: "console", HTTPAddr: ":8080", Scenario: s}
}

// Load reads path on top of Default, applies environment overrides and
// validates the result. A .env file in the working directory is optional.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Scenario.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("BASKET_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("BASKET_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("BASKET_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("BASKET_API_KEY_HASH"); v != "" {
		c.APIKeyHash = v
	}
	if v := os.Getenv("BASKET_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("BASKET_SEED: %w", err)
		}
		c.Scenario.Seed = seed
	}
	if v := os.Getenv("BASKET_SIMULATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BASKET_SIMULATIONS: %w", err)
		}
		c.Scenario.Simulations = n
	}
	return nil
}

// Validate rejects malformed scenarios before any model is built.
func (s *Scenario) Validate() error {
	if _, err := time.Parse(utils.Layout, s.ReferenceDate); err != nil {
		return fmt.Errorf("%w: reference date: %v", ErrInvalid, err)
	}
	n := len(s.Names)
	if n == 0 {
		return fmt.Errorf("%w: no names", ErrInvalid)
	}
	if len(s.HazardRates) != n || len(s.Notionals) != n || len(s.Recoveries) != n {
		return fmt.Errorf("%w: %d names, %d hazard rates, %d notionals, %d recoveries",
			ErrInvalid, n, len(s.HazardRates), len(s.Notionals), len(s.Recoveries))
	}
	for i := 0; i < n; i++ {
		if s.HazardRates[i] < 0 || s.Notionals[i] < 0 || s.Recoveries[i] < 0 || s.Recoveries[i] > 1 {
			return fmt.Errorf("%w: bad data for %s", ErrInvalid, s.Names[i])
		}
	}
	if !(0 <= s.Attach && s.Attach < s.Detach && s.Detach <= 1) {
		return fmt.Errorf("%w: tranche [%v, %v]", ErrInvalid, s.Attach, s.Detach)
	}
	if s.Correlation < 0 || s.Correlation >= 1 {
		return fmt.Errorf("%w: correlation %v", ErrInvalid, s.Correlation)
	}
	if _, err := utils.ParsePeriod(s.Horizon); err != nil {
		return fmt.Errorf("%w: horizon: %v", ErrInvalid, err)
	}
	if _, err := copula.ParseIntegrationType(s.Integration); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(s.Models) == 0 {
		return fmt.Errorf("%w: no models", ErrInvalid)
	}
	seen := map[string]bool{}
	for _, m := range s.Models {
		if seen[m] {
			return fmt.Errorf("%w: model %q listed twice", ErrInvalid, m)
		}
		seen[m] = true
		if !known(m) {
			return fmt.Errorf("%w: unknown model %q, want one of %s", ErrInvalid, m, strings.Join(knownModels, ", "))
		}
		switch m {
		case ModelRandom:
			if s.Simulations < 2 || s.Simulations > MaxSimulations {
				return fmt.Errorf("%w: simulations %d", ErrInvalid, s.Simulations)
			}
		case ModelInhomogeneous, ModelHomogeneous:
			if s.Buckets < 1 || s.Buckets > MaxBuckets {
				return fmt.Errorf("%w: buckets %d", ErrInvalid, s.Buckets)
			}
		case ModelBaseCorr:
			if s.BaseCorr == nil {
				return fmt.Errorf("%w: base-correlation model needs a surface", ErrInvalid)
			}
			if s.Buckets > MaxBuckets {
				return fmt.Errorf("%w: buckets %d", ErrInvalid, s.Buckets)
			}
		}
	}
	if s.BaseCorr != nil {
		if err := s.BaseCorr.validate(); err != nil {
			return err
		}
	}
	if s.CDO != nil {
		if err := s.CDO.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (b *BaseCorr) validate() error {
	if _, err := basecorr.ParseKind(b.Kind); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(b.Tenors) == 0 || len(b.LossLevels) == 0 || len(b.Correlations) != len(b.Tenors) {
		return fmt.Errorf("%w: surface needs one correlation row per tenor", ErrInvalid)
	}
	for _, t := range b.Tenors {
		if _, err := utils.ParsePeriod(t); err != nil {
			return fmt.Errorf("%w: surface tenor: %v", ErrInvalid, err)
		}
	}
	for i, row := range b.Correlations {
		if len(row) != len(b.LossLevels) {
			return fmt.Errorf("%w: surface row %d has %d correlations for %d loss levels", ErrInvalid, i, len(row), len(b.LossLevels))
		}
	}
	return nil
}

func (c *CDO) validate() error {
	if _, err := utils.ParsePeriod(c.Tenor); err != nil {
		return fmt.Errorf("%w: cdo tenor: %v", ErrInvalid, err)
	}
	if _, err := utils.YearFraction(time.Time{}, time.Time{}, c.DayCount); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch strings.ToLower(c.Calendar) {
	case "", "nyse":
	default:
		return fmt.Errorf("%w: cdo calendar %q", ErrInvalid, c.Calendar)
	}
	switch strings.ToLower(c.Side) {
	case "", "seller", "buyer":
	default:
		return fmt.Errorf("%w: cdo side %q", ErrInvalid, c.Side)
	}
	switch strings.ToLower(c.Engine) {
	case "", "midpoint":
	case "integral":
		if _, err := utils.ParsePeriod(c.Step); err != nil {
			return fmt.Errorf("%w: integral engine step: %v", ErrInvalid, err)
		}
	default:
		return fmt.Errorf("%w: cdo engine %q", ErrInvalid, c.Engine)
	}
	return nil
}

func known(m string) bool {
	for _, k := range knownModels {
		if k == m {
			return true
		}
	}
	return false
}
