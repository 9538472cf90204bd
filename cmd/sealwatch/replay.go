package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"sealwatch/internal/engine"
	"sealwatch/internal/replay"
	"sealwatch/internal/snapshot"
	"sealwatch/internal/store/alertstore"
	"sealwatch/internal/store/snapshotstore"
	"sealwatch/internal/strategy"
)

var (
	replayReevaluate bool
	replayDate       string
	replayDays       int
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "复盘冻结快照与历史提醒",
}

var replaySnapshotCmd = &cobra.Command{
	Use:   "snapshot <snapshot_id>",
	Short: "查看冻结快照及其提醒，可选按当前 profile 重新评估",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withReplay(cmd, replayReevaluate, func(svc *replay.Service) (any, error) {
			return svc.Snapshot(cmd.Context(), args[0], replayReevaluate)
		})
	},
}

var replayDailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "输出某个交易日的汇总",
	RunE: func(cmd *cobra.Command, args []string) error {
		day := time.Now().In(snapshot.Location)
		if replayDate != "" {
			parsed, err := time.ParseInLocation("2006-01-02", replayDate, snapshot.Location)
			if err != nil {
				return fmt.Errorf("invalid --date %q: %w", replayDate, err)
			}
			day = parsed
		}
		return withReplay(cmd, false, func(svc *replay.Service) (any, error) {
			return svc.DailySummary(cmd.Context(), day)
		})
	},
}

var replayFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "统计标注为失败的提醒中最常见的未通过条件",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withReplay(cmd, false, func(svc *replay.Service) (any, error) {
			return svc.FailurePatterns(cmd.Context(), replayDays, time.Now())
		})
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.AddCommand(replaySnapshotCmd, replayDailyCmd, replayFailuresCmd)
	replaySnapshotCmd.Flags().BoolVar(&replayReevaluate, "reevaluate", false, "按当前 profile 重新评估")
	replayDailyCmd.Flags().StringVar(&replayDate, "date", "", "交易日 YYYY-MM-DD（默认今天）")
	replayFailuresCmd.Flags().IntVar(&replayDays, "days", 7, "统计最近天数")
}

// withReplay 打开两个存储，构建复盘服务并把结果以 JSON 输出。
func withReplay(cmd *cobra.Command, needEngine bool, fn func(*replay.Service) (any, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	alerts, err := alertstore.Open(cfg.Store.AlertDBPath)
	if err != nil {
		return err
	}
	defer alerts.Close()
	snaps, err := snapshotstore.Open(cfg.Store.SnapshotDBPath)
	if err != nil {
		return err
	}
	defer snaps.Close()

	var eval replay.Evaluator
	if needEngine {
		loader, err := strategy.NewLoader(cfg.Engine.ProfilesPath)
		if err != nil {
			return err
		}
		eval = engine.New(cfg.EngineSettings(), loader)
	}
	out, err := fn(replay.New(alerts, snaps, eval))
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
