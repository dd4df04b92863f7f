package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"yqhp/cherry/internal/protocol"
	"yqhp/cherry/internal/tool"
)

// versionCmd 显示版本信息
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "cherry %s (protocol %d, min %d)\n", protocol.VersionTxt, protocol.VersionNum, protocol.MinVersionNum)
		fmt.Fprintf(out, "tools: %s\n", strings.Join(tool.DefaultRegistry().Names(), ", "))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
