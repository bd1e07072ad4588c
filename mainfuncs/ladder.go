package mainfuncs

import (
	"fmt"
	"time"

	"github.com/banachtech/basket-credit/config"
	"github.com/banachtech/basket-credit/utils"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

// LadderResult is one model's expected tranche loss on each ladder date.
type LadderResult struct {
	Model  string    `json:"model"`
	Losses []float64 `json:"losses,omitempty"`
	// Mean and standard deviation of the loss increments between dates.
	MeanIncrement float64 `json:"mean_increment"`
	StdIncrement  float64 `json:"std_increment"`
	// Number of dates where the expected loss fell.
	Decreases int    `json:"decreases"`
	Error     string `json:"error,omitempty"`
}

type LadderReport struct {
	Dates   []string       `json:"dates"`
	Results []LadderResult `json:"results"`
}

// Ladder evaluates every configured model from the reference date to the
// horizon in steps of step.
func Ladder(s config.Scenario, step utils.Period, progress func()) (*LadderReport, error) {
	if step.Length <= 0 {
		return nil, fmt.Errorf("%w: ladder step %s", config.ErrInvalid, step)
	}
	mk, err := newMarket(s)
	if err != nil {
		return nil, err
	}
	dates := utils.DateGrid(mk.refDate, mk.horizon, step)
	report := &LadderReport{}
	for _, d := range dates {
		report.Dates = append(report.Dates, d.Format(utils.Layout))
	}

	jobs, failed := mk.jobs()
	byName := map[string]LadderResult{}
	for _, f := range failed {
		byName[f.Model] = LadderResult{Model: f.Model, Error: f.Error}
	}
	for _, j := range jobs {
		byName[j.name] = ladder(j, dates)
		if progress != nil {
			progress()
		}
	}
	for _, name := range s.Models {
		report.Results = append(report.Results, byName[name])
	}
	return report, nil
}

func ladder(j job, dates []time.Time) LadderResult {
	res := LadderResult{Model: j.name}
	var increments []float64
	for i, d := range dates {
		l, err := j.basket.ExpectedTrancheLoss(d)
		if err != nil {
			log.Error().Err(err).Str("model", j.name).Str("date", d.Format(utils.Layout)).Msg("ladder failed")
			return LadderResult{Model: j.name, Error: err.Error()}
		}
		if i > 0 {
			inc := l - res.Losses[i-1]
			if inc < 0 {
				res.Decreases++
			}
			increments = append(increments, inc)
		}
		res.Losses = append(res.Losses, l)
	}
	if len(increments) > 1 {
		res.MeanIncrement, res.StdIncrement = stat.MeanStdDev(increments, nil)
	} else if len(increments) == 1 {
		res.MeanIncrement = increments[0]
	}
	return res
}
