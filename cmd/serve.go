package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yqhp/cherry/internal/api"
	"yqhp/cherry/internal/eventsink"
	"yqhp/cherry/internal/master"
	"yqhp/cherry/pkg/logger"
	"yqhp/cherry/pkg/utils"
)

// serveFlagPaths 把 serve 的 flag 映射到配置路径
var serveFlagPaths = map[string]string{
	"capturefile":    "master.capturefile",
	"dictionary":     "master.dictionary",
	"port":           "master.port",
	"file-port":      "master.file_port",
	"secret":         "master.secret",
	"max-clients":    "master.max_clients",
	"async-allowed":  "master.async_allowed",
	"status-address": "master.status_address",
	"redis-addr":     "master.redis_addr",
}

// serveCmd 启动 master
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 master 节点",
	Long: `启动 master 节点：监听加入端口和文件分发端口，接纳 worker，
向其分发抓包文件并汇总整个集群的速度。`,
	Example: `  # 使用抓包文件和字典启动
  cherry serve -r handshake.cap -d words.txt

  # 设置共享密钥并限制 worker 数量
  cherry serve -r handshake.cap -d words.txt -s s3cret --max-clients 8

  # 开启状态 API
  cherry serve -r handshake.cap -d words.txt --status-address :9080`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.StringP("capturefile", "r", "", "抓包文件路径")
	f.StringP("dictionary", "d", "", "字典文件路径")
	f.IntP("port", "p", 9005, "加入端口")
	f.Int("file-port", 9006, "文件分发端口")
	f.StringP("secret", "s", "", "集群共享密钥 (最多 20 个字符)")
	f.Int("max-clients", 0, "最大 worker 数量 (0 表示不限制)")
	f.Bool("async-allowed", true, "允许异步 (自带字典) 的 worker 加入")
	f.String("status-address", "", "状态 API 监听地址，为空时不启动")
	f.String("redis-addr", "", "Redis 地址，设置后向频道发布集群事件")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags(), serveFlagPaths)
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := []master.Option{master.WithLogger(log)}
	if cfg.Master.RedisAddr != "" {
		sink, err := eventsink.NewRedisSink(ctx, cfg.Master.RedisAddr, cfg.Master.RedisChannel)
		if err != nil {
			return fmt.Errorf("连接 Redis 失败: %w", err)
		}
		defer sink.Close()
		opts = append(opts, master.WithSink(sink))
		log.Info(fmt.Sprintf("Publishing events to %s on %s", cfg.Master.RedisChannel, cfg.Master.RedisAddr))
	}

	printBanner()
	m := master.New(cfg, opts...)
	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("启动 master 失败: %w", err)
	}

	if addr := cfg.Master.StatusAddress; addr != "" {
		status := api.NewServer(m, &api.Config{
			Address:      addr,
			ReadTimeout:  api.DefaultConfig().ReadTimeout,
			WriteTimeout: api.DefaultConfig().WriteTimeout,
		}, log)
		utils.SafeGo(log, "status-api", func() {
			if err := status.ListenAndServe(ctx); err != nil {
				log.Error("status API stopped", zap.Error(err))
			}
		})
	}

	// 收到信号后立即退出：通知 worker 离开，但不等待连接处理完毕
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Warn("Interrupted, shutting down")

	stopCtx, stop := context.WithCancel(context.Background())
	stop()
	if err := m.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
