// Package cmd 提供 cherry CLI 的命令实现
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"yqhp/cherry/internal/config"
	"yqhp/cherry/internal/protocol"
	"yqhp/cherry/pkg/logger"
)

const (
	// Banner 是启动时显示的 ASCII 艺术
	Banner = `
     __
  __/  \__    cherry %s
 /  \__/  \   distributed WPA cracking cluster
 \__/  \__/   protocol %d
    \__/
`
)

var (
	// 全局配置
	cfgFile   string
	debug     bool
	logFormat string
	quiet     bool
)

// rootCmd 是根命令
var rootCmd = &cobra.Command{
	Use:   "cherry",
	Short: "分布式密码恢复集群",
	Long: `cherry 将多台机器组成一个密码恢复集群：master 分发抓包文件并汇总算力，
worker 加载破解工具、加入集群并定期上报速度。`,
	Version:       protocol.VersionTxt,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", logger.Tag(zap.ErrorLevel), err)
		os.Exit(1)
	}
}

func init() {
	// 全局 flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径 (YAML，支持 // 注释)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "启用调试日志")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "日志格式: tag, console, json")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "静默模式，不显示启动横幅")

	// 禁用默认的 completion 命令
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// 自定义版本模板
	rootCmd.SetVersionTemplate(fmt.Sprintf(Banner, protocol.VersionTxt, protocol.VersionNum) + "\n")
}

// GetRootCmd 返回根命令（用于测试）
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// loadConfig 按 默认值 < 配置文件 < 环境变量 < 命令行 的顺序加载配置。
// flagPaths 把命令行 flag 名映射到配置的点路径，只有显式设置的 flag 才会覆盖。
func loadConfig(flags *pflag.FlagSet, flagPaths map[string]string) (*config.Config, error) {
	overrides := make(map[string]string)
	for name, path := range flagPaths {
		if f := flags.Lookup(name); f != nil && f.Changed {
			overrides[path] = f.Value.String()
		}
	}
	if debug {
		overrides["logging.level"] = "debug"
	}
	if logFormat != "" {
		overrides["logging.format"] = logFormat
	}

	loader := config.NewLoader().WithCmdArgs(overrides)
	if cfgFile != "" {
		loader = loader.WithConfigPath(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	return cfg, nil
}

// newLogger 根据配置创建日志实例，并设为全局日志
func newLogger(cfg *config.Config) *zap.Logger {
	lc := cfg.Logging
	logger.Init(&logger.Config{
		Level:      lc.Level,
		Format:     lc.Format,
		Output:     lc.Output,
		FilePath:   lc.FilePath,
		MaxSize:    lc.MaxSize,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAge,
	})
	return logger.L()
}

func printBanner() {
	if !quiet {
		fmt.Printf(Banner, protocol.VersionTxt, protocol.VersionNum)
		fmt.Println()
	}
}
