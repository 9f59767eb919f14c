package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/exoswitch/exoswitch/internal/secrets"
)

// sealableKeys are the exoswitchd settings that may hold an ENC[...] value,
// with the environment variable that can carry the same value.
var sealableKeys = []struct{ key, env string }{
	{"exoscale.api_secret", "EXOSCALE_API_SECRET"},
	{"exoscale.api_key", "EXOSCALE_API_KEY"},
	{"web.password", "EXOSWITCH_WEB_PASSWORD"},
	{"nats.token", "EXOSWITCH_NATS_TOKEN"},
	{"notify.slack_token", "EXOSWITCH_SLACK_TOKEN"},
}

func envFor(key string) (string, error) {
	for _, s := range sealableKeys {
		if s.key == key {
			return s.env, nil
		}
	}
	names := make([]string, len(sealableKeys))
	for i, s := range sealableKeys {
		names[i] = s.key
	}
	return "", fmt.Errorf("%q cannot be sealed; use one of %s", key, strings.Join(names, ", "))
}

// checkCredential rejects values exoswitchd would fail on later: empty,
// padded with whitespace, or an API key without the EXO prefix.
func checkCredential(key, value string) error {
	switch {
	case value == "":
		return fmt.Errorf("%s is empty", key)
	case strings.TrimSpace(value) != value:
		return fmt.Errorf("%s has leading or trailing whitespace", key)
	case key == "exoscale.api_key" && !strings.HasPrefix(value, "EXO"):
		return fmt.Errorf("%s does not look like an Exoscale key (expected EXO prefix)", key)
	}
	return nil
}

func newSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Seal Exoscale credentials and other exoswitchd secrets with age",
	}
	cmd.AddCommand(newSecretsKeygenCmd(), newSecretsEncryptCmd(), newSecretsDecryptCmd(), newSecretsCheckCmd())
	return cmd
}

func newSecretsKeygenCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create the age identity exoswitchd uses to open sealed values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := output
			if path == "" {
				var err error
				if path, err = secrets.DefaultKeyPath(); err != nil {
					return fmt.Errorf("default key path: %w", err)
				}
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists; remove it to create a new identity", path)
			}

			identity, err := secrets.GenerateKeyPair()
			if err != nil {
				return fmt.Errorf("generate identity: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
				return fmt.Errorf("create key dir: %w", err)
			}
			body := fmt.Sprintf("# exoswitch age identity, created %s\n# recipient: %s\n%s\n",
				time.Now().UTC().Format(time.RFC3339), identity.Recipient(), identity)
			if err := os.WriteFile(path, []byte(body), 0600); err != nil {
				return fmt.Errorf("write identity: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Identity: %s\n", path)
			fmt.Fprintf(out, "Recipient: %s\n", identity.Recipient())
			if output != "" {
				fmt.Fprintf(out, "Point exoswitchd at it with %s=%s\n", secrets.EnvAgeKeyFile, path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "identity file (default: ~/.config/exoswitch/age.key)")
	return cmd
}

func newSecretsEncryptCmd() *cobra.Command {
	var (
		key       string
		recipient string
		asEnv     bool
	)

	cmd := &cobra.Command{
		Use:   "encrypt [value]",
		Short: "Seal a credential and print it ready to paste into exoswitch.toml",
		Long: `Seals a value for one exoswitchd setting (default exoscale.api_secret) and
prints the TOML section and line to paste into exoswitch.toml, or with --env
the matching environment assignment. Without an argument the value is read
from the first line of stdin, which keeps it out of shell history.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFor(key)
			if err != nil {
				return err
			}

			var value string
			if len(args) == 1 {
				value = args[0]
			} else if value, err = readLine(cmd.InOrStdin()); err != nil {
				return fmt.Errorf("read value: %w", err)
			}
			if err := checkCredential(key, value); err != nil {
				return err
			}

			r, err := sealingRecipient(recipient)
			if err != nil {
				return err
			}
			sealed, err := secrets.Encrypt(value, r)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asEnv {
				fmt.Fprintf(out, "%s=%s\n", env, sealed)
				return nil
			}
			section, field, _ := strings.Cut(key, ".")
			fmt.Fprintf(out, "[%s]\n%s = %q\n", section, field, sealed)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "exoscale.api_secret", "setting the value is for")
	cmd.Flags().StringVar(&recipient, "recipient", "", "age recipient (default: derived from the local identity)")
	cmd.Flags().BoolVar(&asEnv, "env", false, "print an environment assignment instead of TOML")
	return cmd
}

func newSecretsDecryptCmd() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "decrypt <ENC[...]>",
		Short: "Open a sealed value with the local identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := localIdentities(viper.New())
			if err != nil {
				return err
			}
			plain, err := secrets.Decrypt(args[0], ids...)
			if err != nil {
				return err
			}
			if key != "" {
				if _, err := envFor(key); err != nil {
					return err
				}
				if err := checkCredential(key, plain); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), plain)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "validate the result as this setting, e.g. exoscale.api_key")
	return cmd
}

func newSecretsCheckCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify that every sealed value in exoswitch.toml opens to a usable credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			v.SetConfigType("toml")
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
			} else {
				v.SetConfigName("exoswitch")
				v.AddConfigPath("/etc/exoswitch")
				v.AddConfigPath("$HOME/.config/exoswitch")
				v.AddConfigPath(".")
			}
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config: %s\n", v.ConfigFileUsed())

			var ids []age.Identity
			failed := 0
			for _, s := range sealableKeys {
				raw := v.GetString(s.key)
				switch {
				case raw == "":
					continue
				case !secrets.IsEncrypted(raw):
					fmt.Fprintf(out, "%-20s plaintext\n", s.key)
					continue
				}
				if ids == nil {
					var err error
					if ids, err = localIdentities(v); err != nil {
						return err
					}
				}
				plain, err := secrets.Decrypt(raw, ids...)
				if err == nil {
					err = checkCredential(s.key, plain)
				}
				if err != nil {
					failed++
					fmt.Fprintf(out, "%-20s FAILED: %v\n", s.key, err)
					continue
				}
				fmt.Fprintf(out, "%-20s sealed, ok\n", s.key)
			}
			if failed > 0 {
				return fmt.Errorf("%d sealed value(s) unusable", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "exoswitch.toml to check (default: search /etc/exoswitch, ~/.config/exoswitch, .)")
	return cmd
}

// localIdentities resolves identities the way exoswitchd does, so a value
// that opens here also opens in the daemon.
func localIdentities(v *viper.Viper) ([]age.Identity, error) {
	ids, err := secrets.ResolveIdentity(v)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no age identity: set %s or %s, or run 'exoswitchctl secrets keygen'",
			secrets.EnvAgeKey, secrets.EnvAgeKeyFile)
	}
	return ids, nil
}

func sealingRecipient(flag string) (age.Recipient, error) {
	if flag != "" {
		r, err := age.ParseX25519Recipient(flag)
		if err != nil {
			return nil, fmt.Errorf("parse recipient: %w", err)
		}
		return r, nil
	}
	ids, err := localIdentities(viper.New())
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if x, ok := id.(*age.X25519Identity); ok {
			return x.Recipient(), nil
		}
	}
	return nil, errors.New("local identity is not X25519; pass --recipient")
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
