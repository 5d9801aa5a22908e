package cli

import (
	"bufio"
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"trading-loop/pkg/secrets"
)

// newSecretsCmd manages sealed credentials. It never loads the trading configuration, so
// it works before the token it seals is in place.
func newSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Seal credentials for storage in the environment",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "keygen",
		Short: "Print a new random sealing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secrets.GenerateKey()
			if err != nil {
				return err
			}
			cmd.Println(key)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "seal [VALUE]",
		Short: "Seal a value with the newest key in " + secrets.KeyEnv,
		Long: `Seal VALUE, or the first line of stdin when VALUE is omitted. The output can be
used directly as DERIV_API_TOKEN, OPERATOR_SECRET or JWT_SECRET.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ring, err := secrets.LoadKeyring(os.Getenv)
			if err != nil {
				return err
			}
			value := ""
			if len(args) == 1 {
				value = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no value given on stdin")
				}
				value = strings.TrimRight(line, "\r\n")
			}
			sealed, err := ring.Seal(value)
			if err != nil {
				return err
			}
			cmd.Println(sealed)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rotate SEALED",
		Short: "Re-seal a value under the newest key version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ring, err := secrets.LoadKeyring(os.Getenv)
			if err != nil {
				return err
			}
			rotated, err := ring.Rotate(args[0])
			if err != nil {
				return err
			}
			cmd.Println(rotated)
			return nil
		},
	})

	return cmd
}
