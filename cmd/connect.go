package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yqhp/cherry/internal/protocol"
	"yqhp/cherry/internal/tool"
	"yqhp/cherry/internal/worker"
	"yqhp/cherry/pkg/logger"
	"yqhp/cherry/pkg/utils"
)

// connectFlagPaths 把 connect 的 flag 映射到配置路径
var connectFlagPaths = map[string]string{
	"master-ip":     "worker.master_ip",
	"master-port":   "worker.master_port",
	"file-port":     "worker.file_port",
	"master-secret": "worker.master_secret",
	"cracking-tool": "worker.tool.name",
	"tool-path":     "worker.tool.path",
	"speed":         "worker.tool.speed",
	"async":         "worker.async",
	"dictionary":    "worker.dictionary",
	"capture-path":  "worker.capture_path",
}

// connectCmd 启动 worker 并加入集群
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "作为 worker 加入集群",
	Long: `加载破解工具并测速，连接 master 完成认证，下载抓包文件，
然后定期向 master 上报速度，直到 master 关闭集群或收到中断信号。`,
	Example: `  # 使用 pyrit 加入本机 master
  cherry connect -i 127.0.0.1 -d words.txt

  # 使用 hashcat 并跳过测速
  cherry connect -i 10.0.0.1 -t hashcat --speed 120000 -d words.txt -s s3cret

  # 异步模式：使用自己的字典
  cherry connect -i 10.0.0.1 --async`,
	Args: cobra.NoArgs,
	RunE: runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)

	f := connectCmd.Flags()
	f.StringP("master-ip", "i", "127.0.0.1", "master IPv4 地址")
	f.IntP("master-port", "p", 9005, "master 加入端口")
	f.Int("file-port", 9006, "master 文件分发端口")
	f.StringP("master-secret", "s", "", "集群共享密钥")
	f.StringP("cracking-tool", "t", "pyrit", "破解工具: "+strings.Join(tool.DefaultRegistry().Names(), ", "))
	f.String("tool-path", "", "破解工具路径 (默认与工具名相同)")
	f.Int64("speed", 0, "固定速度 PMK/s，设置后跳过测速")
	f.Bool("async", false, "异步模式：不与 master 校验字典")
	f.StringP("dictionary", "d", "", "字典文件路径")
	f.StringP("capture-path", "o", "handshake.cap", "抓包文件保存路径")
	f.Bool("crack", false, "就绪后运行破解工具，找到密码时通知 master")
}

func runConnect(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	cfg, err := loadConfig(flags, connectFlagPaths)
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn("Interrupted, leaving the cluster")
		cancel()
	}()

	printBanner()
	w := worker.New(cfg, worker.WithLogger(log))
	if err := w.Bootstrap(ctx); err != nil {
		var rejected *worker.RejectedError
		if errors.As(err, &rejected) {
			return fmt.Errorf("%s", protocol.DescribeReason(rejected.Reason))
		}
		return err
	}

	if crack, _ := flags.GetBool("crack"); crack {
		utils.SafeGo(log, "crack", func() {
			if err := w.Crack(ctx); err != nil && ctx.Err() == nil {
				log.Error("cracking tool failed", zap.Error(err))
			}
		})
	}

	err = w.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
