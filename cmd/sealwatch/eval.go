package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sealwatch/internal/engine"
	"sealwatch/internal/snapshot"
	"sealwatch/internal/strategy"
)

var (
	evalSnapshotPath string
	evalSymbol       string
	evalStrategy     string
	evalFormat       string
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "对单个快照文件离线运行一次 tick",
	Long: `读取一个 FeatureSnapshot JSON 文件，用配置中的策略画像评估全部候选并输出决策。

Examples:
  sealwatch eval --snapshot snap.json
  sealwatch eval --snapshot snap.json --symbol 600001 --strategy reseal --format json`,
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().StringVar(&evalSnapshotPath, "snapshot", "", "快照 JSON 文件")
	evalCmd.Flags().StringVar(&evalSymbol, "symbol", "", "只评估该代码")
	evalCmd.Flags().StringVar(&evalStrategy, "strategy", "", "策略 id（单票评估时使用）")
	evalCmd.Flags().StringVar(&evalFormat, "format", "table", "输出格式: table, json")
	_ = evalCmd.MarkFlagRequired("snapshot")
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(evalSnapshotPath)
	if err != nil {
		return fmt.Errorf("读取快照失败: %w", err)
	}
	snap, err := snapshot.Decode(raw)
	if err != nil {
		return err
	}
	loader, err := strategy.NewLoader(cfg.Engine.ProfilesPath)
	if err != nil {
		return err
	}
	eng := engine.New(cfg.EngineSettings(), loader)
	out := cmd.OutOrStdout()

	if strings.TrimSpace(evalSymbol) != "" {
		rec, err := eng.EvaluateSymbol(cmd.Context(), snap, evalSymbol, evalStrategy)
		if err != nil {
			return err
		}
		b, err := rec.JSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(b))
		return err
	}

	res, err := eng.RunTick(cmd.Context(), snap)
	if err != nil {
		return err
	}
	if strings.EqualFold(evalFormat, "json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(out, "snapshot=%s light=%s mode=%s profiles=v%d\n", res.SnapshotID, res.Regime.Light, res.Regime.Mode, res.ProfileVersion)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STRATEGY\tRANK\tSYMBOL\tACTION\tCONF\tSCORE\tSUMMARY")
	for _, rec := range res.Decisions {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%.2f\t%.1f\t%s\n",
			rec.StrategyID, rec.Score.Rank, rec.Symbol, rec.Action, rec.Confidence, rec.Score.Total, rec.OneLiner)
	}
	return w.Flush()
}
