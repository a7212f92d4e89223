package cli

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/QingMing-Bot/nlssh/internal/agent"
	"github.com/QingMing-Bot/nlssh/internal/domain"
	"github.com/QingMing-Bot/nlssh/pkg/vault"
)

func newMachineCommand(a *agent.Agent) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "machine",
		Short: "管理遠端機器",
	}
	cmd.AddCommand(newMachineAddCommand(a))
	cmd.AddCommand(newMachineListCommand(a))
	cmd.AddCommand(newMachineRemoveCommand(a))
	cmd.AddCommand(newMachineTestCommand(a))
	cmd.AddCommand(newMachineImportCommand(a))
	cmd.AddCommand(newMachineExportCommand(a))
	return cmd
}

func newMachineAddCommand(a *agent.Agent) *cobra.Command {
	var (
		name    string
		host    string
		port    int
		user    string
		auth    string
		keyFile string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "註冊機器（密碼互動輸入，不回顯）",
		RunE: func(cmd *cobra.Command, args []string) error {
			method := domain.AuthMethod(auth)
			var secret []byte
			switch method {
			case domain.AuthPassword:
				fmt.Fprintf(cmd.OutOrStdout(), "password for %s@%s: ", user, host)
				pw, err := term.ReadPassword(int(syscall.Stdin))
				fmt.Fprintln(cmd.OutOrStdout())
				if err != nil {
					return err
				}
				secret = pw
			case domain.AuthPrivateKey:
				if keyFile == "" {
					return errors.New("--key-file required for key auth")
				}
				data, err := os.ReadFile(keyFile)
				if err != nil {
					return err
				}
				secret = data
			default:
				return fmt.Errorf("unknown auth method %q (password|key)", auth)
			}
			defer vault.Wipe(secret)
			id, err := a.RegisterMachine(name, host, port, user, method, secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "顯示名稱")
	cmd.Flags().StringVar(&host, "host", "", "主機名或 IP")
	cmd.Flags().IntVar(&port, "port", 22, "SSH 端口")
	cmd.Flags().StringVar(&user, "user", "", "登入用戶")
	cmd.Flags().StringVar(&auth, "auth", "password", "認證方式 password|key")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "私鑰路徑（auth=key 時必填）")
	_ = cmd.MarkFlagRequired("host")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newMachineListCommand(a *agent.Agent) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "列出機器",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.ListMachines()
			if err != nil {
				return err
			}
			for _, m := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s@%s:%d\n", m.ID, m.Name, m.Username, m.Host, m.Port)
			}
			return nil
		},
	}
}

func newMachineRemoveCommand(a *agent.Agent) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <machine-id>",
		Short: "刪除機器",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.RemoveMachine(args[0])
		},
	}
}

func newMachineTestCommand(a *agent.Agent) *cobra.Command {
	return &cobra.Command{
		Use:   "test <machine-id>",
		Short: "測試連線與認證",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.TestMachine(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newMachineImportCommand(a *agent.Agent) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "導入機器（json|csv；明文 secret 欄位入庫前加密）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			n, err := a.ImportMachines(data, format)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d machines\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "json|csv")
	return cmd
}

func newMachineExportCommand(a *agent.Agent) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "導出機器（凭据不導出）",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.ExportMachines(format)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "json|csv")
	return cmd
}
