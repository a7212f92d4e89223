// Package cli nlssh 的命令行前端；只做参数解析与展示，逻辑都在 agent。
package cli

import (
	"github.com/spf13/cobra"

	"github.com/QingMing-Bot/nlssh/internal/agent"
)

// NewRootCmd 组装 cobra 命令树。
func NewRootCmd(a *agent.Agent) *cobra.Command {
	root := &cobra.Command{
		Use:   "nlssh",
		Short: "自然語言遠端運維助手",
		Long:  "nlssh 把自然語言請求解析為命令計劃，並在註冊的遠端機器上按序執行。",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMachineCommand(a))
	root.AddCommand(newResolveCommand(a))
	root.AddCommand(newRunCommand(a))
	root.AddCommand(newIntentsCommand(a))
	root.AddCommand(newHistoryCommand(a))
	return root
}
