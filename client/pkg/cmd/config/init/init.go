package initcmd

import (
	"fmt"
	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"lifeboat/client/internal/api"
	"lifeboat/client/internal/auth"
	"lifeboat/client/internal/cmdutil"
	"lifeboat/client/internal/config"
	"net/url"
	"os"
	"strings"
)

func NewConfigInitCmd(svc api.Pinger) *cobra.Command {
	var host, accessKey, tenantID, role string
	cmd := &cobra.Command{
		Use:     "init",
		Short:   "Set lifeboat configuration",
		Long:    "Point the client at a lifeboat server. The access key is kept in the OS keychain; tenant and role are sent with every request.",
		Example: "lifeboat config init --host https://backup.example.com --tenant acme --role admin",
		Run: func(cmd *cobra.Command, args []string) {
			serverUrl, err := normalizeHost(host)
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			if accessKey == "" {
				p := promptui.Prompt{
					Label: "Access key",
					Mask:  '*',
					Validate: func(s string) error {
						return validateAccessKey(s)
					},
				}
				if accessKey, err = p.Run(); err != nil {
					cmdutil.PrintE(err.Error())
					return
				}
			}
			if err := validateAccessKey(accessKey); err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			cmdutil.StartLoading("Running test...")
			defer cmdutil.StopLoading()

			err = svc.Ping(cmd.Context(), api.Config{
				Host:      serverUrl,
				AccessKey: accessKey,
				TenantID:  tenantID,
				Role:      role,
			})
			if err != nil {
				cmdutil.StopLoading()
				cmdutil.PrintE(fmt.Sprintf("Test failed: %s", err))
				return
			}

			if err := config.SaveConfig(config.Config{Host: serverUrl, TenantID: tenantID, Role: role}); err != nil {
				cmdutil.Print(fmt.Sprintf("Failed to save config: %s", color.RedString(err.Error())))
				return
			}

			if err := auth.Save(accessKey); err != nil {
				cmdutil.Print(fmt.Sprintf("Failed to save access key: %s", color.RedString(err.Error())))
				return
			}

			_, _ = fmt.Fprintln(os.Stdout, fmt.Sprintf("\n%s: Configuration set successfully", color.GreenString("Test passed")))
		},
	}
	cmd.Flags().StringVarP(&host, "host", "i", "", "lifeboat server url")
	cmd.Flags().StringVarP(&accessKey, "access-key", "a", "", "lifeboat server access key, prompted for when omitted")
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant to act as; empty acts as the instance admin")
	cmd.Flags().StringVarP(&role, "role", "r", "", "role within the tenant, e.g. admin or member")
	return cmd
}

func normalizeHost(host string) (string, error) {
	if host == "" {
		return "", fmt.Errorf("--host is required")
	}
	u, err := url.Parse(host)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("host must be an http or https url, got %q", host)
	}
	if u.Host == "" {
		return "", fmt.Errorf("host %q has no hostname", host)
	}
	return u.String(), nil
}

func validateAccessKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("access key must not be empty")
	}
	return nil
}
