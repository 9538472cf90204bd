package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sealwatch/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sealwatch",
	Short: "A 股涨停回封信号与风控决策引擎",
	Long: `sealwatch 读取特征快照，按策略画像评估候选，输出 ALLOW/WATCH/BLOCK 决策、
交易计划与可回放的解释记录。

Examples:
  sealwatch serve --config configs/config.yaml
  sealwatch eval --snapshot testdata/scenario_a.json
  sealwatch replay daily --date 2026-03-02`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径（默认 $SEALWATCH_CONFIG 或 configs/config.yaml）")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	return cfg, nil
}
