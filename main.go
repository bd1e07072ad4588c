package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/banachtech/basket-credit/api"
	"github.com/banachtech/basket-credit/config"
	"github.com/banachtech/basket-credit/logger"
	"github.com/banachtech/basket-credit/mainfuncs"
	"github.com/banachtech/basket-credit/utils"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgPath string
	var cfg *config.Config
	root := &cobra.Command{
		Use:           "basket",
		Short:         "Basket credit tranche pricer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			logger.Setup(c.LogLevel, c.LogFormat)
			cfg = c
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "scenario YAML file")

	root.AddCommand(priceCmd(&cfg), ladderCmd(&cfg), serveCmd(&cfg))
	return root
}

func priceCmd(cfg **config.Config) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Expected tranche loss and CDO quotes for every configured model",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := (*cfg).Scenario
			bar := progressBar(len(s.Models), "pricing")
			report, err := mainfuncs.Pricer(s, func() { _ = bar.Add(1) })
			_ = bar.Finish()
			if err != nil {
				log.Error().Err(err).Msg("pricing failed")
				return err
			}
			if asJSON {
				return printJSON(report)
			}
			printReport(report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func ladderCmd(cfg **config.Config) *cobra.Command {
	var step string
	cmd := &cobra.Command{
		Use:   "ladder",
		Short: "Expected tranche loss of every model from the reference date to the horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := utils.ParsePeriod(step)
			if err != nil {
				return err
			}
			s := (*cfg).Scenario
			bar := progressBar(len(s.Models), "ladder")
			report, err := mainfuncs.Ladder(s, p, func() { _ = bar.Add(1) })
			_ = bar.Finish()
			if err != nil {
				log.Error().Err(err).Msg("ladder failed")
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().StringVar(&step, "step", "1Y", "ladder step")
	return cmd
}

func serveCmd(cfg **config.Config) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = (*cfg).HTTPAddr
			}
			server := api.NewServer((*cfg).APIKeyHash)
			if err := server.Start(addr); err != nil {
				log.Error().Err(err).Msg("server stopped")
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, defaults to http_addr of the config")
	return cmd
}

// progress bar initialization
func progressBar(length int, description string) *progressbar.ProgressBar {
	bar := progressbar.NewOptions(
		length,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(20),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
	return bar
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(r *mainfuncs.Report) {
	fmt.Printf("tranche [%.2f%%, %.2f%%] notional %.2f, horizon %s\n", 100*r.Attach, 100*r.Detach, r.TrancheNotional, r.Horizon)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "model\tETL\tstd err\tfair premium\tfair upfront\terror")
	for _, res := range r.Results {
		premium, upfront := "-", "-"
		if res.CDO != nil {
			premium = fmt.Sprintf("%.6f", res.CDO.FairPremium)
			upfront = fmt.Sprintf("%.6f", res.CDO.FairUpfront)
		}
		stdErr := "-"
		if res.StdError > 0 {
			stdErr = fmt.Sprintf("%.6f", res.StdError)
		}
		fmt.Fprintf(w, "%s\t%.6f\t%s\t%s\t%s\t%s\n", res.Model, res.ExpectedTrancheLoss, stdErr, premium, upfront, res.Error)
	}
	w.Flush()
}
