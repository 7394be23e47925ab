package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/erazemk/svezina/internal/account"
	"github.com/erazemk/svezina/internal/config"
)

func newUserCmd(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <email>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptNewPassword(cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), cfg(), func(a *app) error {
				user, err := a.accounts.Register(cmd.Context(), args[0], password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Account created: %s (id %d)\n", user.Email, user.ID)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "passwd <email>",
		Short: "Set a new password for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptNewPassword(cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), cfg(), func(a *app) error {
				err := a.accounts.SetPassword(cmd.Context(), args[0], password)
				if errors.Is(err, account.ErrInvalidCredentials) {
					return fmt.Errorf("no account for %s", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Password updated.")
				return nil
			})
		},
	})

	return cmd
}

// withApp opens the services for the duration of fn.
func withApp(ctx context.Context, cfg *config.Config, fn func(*app) error) error {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// promptNewPassword asks for a password twice. On a terminal the input is not
// echoed; otherwise two lines are read from in.
func promptNewPassword(in io.Reader, out io.Writer) (string, error) {
	read := lineReader(in)
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		read = func() (string, error) {
			b, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(out)
			return string(b), err
		}
	}

	fmt.Fprint(out, "Password: ")
	first, err := read()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	fmt.Fprint(out, "Repeat password: ")
	second, err := read()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if first != second {
		return "", errors.New("passwords do not match")
	}
	return first, nil
}

func lineReader(in io.Reader) func() (string, error) {
	scanner := bufio.NewScanner(in)
	return func() (string, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		return strings.TrimRight(scanner.Text(), "\r"), nil
	}
}
