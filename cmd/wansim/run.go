package main

import (
	"fmt"
	"path"

	"github.com/spf13/cobra"

	"github.com/wanqos/wansim"
)

var (
	scenario  string
	topoFile  string
	expFile   string
	outFile   string
	capFile   string
	simTime   float64
	failAt    float64
	restoreAt float64
	dynamic   bool
	qos       bool
	rateLimit float64
	attackers int
	eavesdrop bool
	ipsec     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an experiment and write its report",
	Long: `Run one of the stock scenarios (failover, qos, security, steering)
or an experiment assembled from topology and experiment description
files. The report and optional packet capture serialize to yaml or
json, chosen by file extension.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		var ex *wansim.Experiment
		var cl *wansim.Classifier

		if topoFile != "" || expFile != "" {
			if topoFile == "" || expFile == "" {
				return fmt.Errorf("description runs need both --topo and --exp")
			}
			topo, err := wansim.ReadTopoDesc(topoFile, yamlExt(topoFile), nil)
			if err != nil {
				return err
			}
			exp, err := wansim.ReadExpDesc(expFile, yamlExt(expFile), nil)
			if err != nil {
				return err
			}
			ex, err = wansim.BuildExperiment(topo, exp, logger)
			if err != nil {
				return err
			}
			cl = wansim.CreateDefaultClassifier(nil)
		} else {
			cfg := wansim.ScenarioCfg{
				SimTime:   simTime,
				FailAt:    failAt,
				RestoreAt: restoreAt,
				Dynamic:   dynamic,
				QoS:       qos,
				RateLimit: rateLimit,
				Attackers: attackers,
				Eavesdrop: eavesdrop,
				IPSec:     ipsec,
				Trace:     capFile != "",
			}
			switch scenario {
			case "failover":
				ex, cl = wansim.BuildFailoverScenario(cfg, logger)
			case "qos":
				ex, cl = wansim.BuildQoSScenario(cfg, logger)
			case "security":
				ex, cl = wansim.BuildSecurityScenario(cfg, logger)
			case "steering":
				ex, cl = wansim.BuildSteeringScenario(cfg, logger)
			default:
				return fmt.Errorf("unknown scenario %s", scenario)
			}
		}

		ex.Run(simTime)

		rpt := ex.Report(cl, wansim.DefaultVerdictThresholds())
		for _, cs := range rpt.Categories {
			logger.Info("category", "name", cs.Category,
				"sent", cs.Sent, "recv", cs.Recv, "loss", cs.LossRatio,
				"avgdelay", cs.AvgDelay, "verdict", cs.Verdict)
		}

		if outFile != "" {
			if err := rpt.WriteToFile(outFile); err != nil {
				return err
			}
			logger.Info("report written", "file", outFile)
		}
		if capFile != "" {
			if err := ex.TraceManager().WriteToFile(capFile); err != nil {
				return err
			}
			logger.Info("capture written", "file", capFile)
		}
		return nil
	},
}

func yamlExt(filename string) bool {
	ext := path.Ext(filename)
	return ext == ".yaml" || ext == ".yml" || ext == ".YAML"
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&scenario, "scenario", "s", "failover", "stock scenario: failover, qos, security, steering")
	runCmd.Flags().StringVar(&topoFile, "topo", "", "topology description file")
	runCmd.Flags().StringVar(&expFile, "exp", "", "experiment description file")
	runCmd.Flags().StringVarP(&outFile, "out", "o", "", "report output file")
	runCmd.Flags().StringVar(&capFile, "capture", "", "packet capture output file")
	runCmd.Flags().Float64Var(&simTime, "simtime", 0.0, "virtual run length in seconds")
	runCmd.Flags().Float64Var(&failAt, "failure", 0.0, "link failure time")
	runCmd.Flags().Float64Var(&restoreAt, "restore", 0.0, "link restore time")
	runCmd.Flags().BoolVar(&dynamic, "dynamic", false, "dynamic routing reconvergence")
	runCmd.Flags().BoolVar(&qos, "qos", false, "strict-priority scheduling at the bottleneck")
	runCmd.Flags().Float64Var(&rateLimit, "ratelimit", 0.0, "admission limit in bytes per second")
	runCmd.Flags().IntVar(&attackers, "attackers", 0, "flooding sources in the security scenario")
	runCmd.Flags().BoolVar(&eavesdrop, "eavesdrop", false, "tap the server link")
	runCmd.Flags().BoolVar(&ipsec, "ipsec", false, "encrypted tunnel model")
}
