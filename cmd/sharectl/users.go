package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"gshare/internal/app"
	"gshare/internal/auth"
	"gshare/internal/perm"
	sharefs "gshare/internal/storage/fs"
)

type userFlags struct {
	roles         string
	expires       string
	passwordStdin bool
	yes           bool
}

func newUserCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts in the users file",
	}
	cmd.AddCommand(newUserListCmd(env), newUserAddCmd(env), newUserRemoveCmd(env), newHashCmd())
	return cmd
}

func newUserListCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts with their roles and expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := app.UsersFile(env.cfg)
			if err != nil {
				return err
			}
			users, err := readUsers(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(users) == 0 {
				fmt.Fprintln(out, "no users")
				return nil
			}
			names := make([]string, 0, len(users))
			for name := range users {
				names = append(names, name)
			}
			sort.Strings(names)
			now := time.Now()
			for _, name := range names {
				acct := users[name]
				roles := strings.Join(acct.Roles, ",")
				if roles == "" {
					roles = perm.RoleVisitor
				}
				line := name + "\t" + roles
				if !acct.Expiry.IsZero() {
					line += "\texpires " + acct.Expiry.Format(time.DateOnly)
					if acct.Expired(now) {
						line += " (expired)"
					}
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func newUserAddCmd(env *cliEnv) *cobra.Command {
	var flags userFlags
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an account or replace its password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := checkUserName(args[0])
			if err != nil {
				return err
			}
			roles, err := parseRoleFlag(flags.roles)
			if err != nil {
				return err
			}
			expiry, err := parseExpiryFlag(flags.expires)
			if err != nil {
				return err
			}
			path, err := app.UsersFile(env.cfg)
			if err != nil {
				return err
			}
			users, err := readUsers(path)
			if err != nil {
				return err
			}
			if _, exists := users[user]; exists && !flags.yes {
				ok, err := promptYesNo(fmt.Sprintf("User %q exists. Update password? [y/N]: ", user))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.ErrOrStderr(), "no changes made")
					return nil
				}
			}
			password, err := readNewPassword(cmd.InOrStdin(), flags.passwordStdin)
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			if err := upsertUsersFile(path, user, auth.FormatLine(user, hash, expiry, roles)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "updated %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.roles, "roles", "", "comma separated roles (visitor, friend, admin)")
	cmd.Flags().StringVar(&flags.expires, "expires", "", "last valid day, YYYY-MM-DD")
	cmd.Flags().BoolVar(&flags.passwordStdin, "password-stdin", false, "read the password from stdin")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "replace an existing account without asking")
	return cmd
}

func newUserRemoveCmd(env *cliEnv) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "remove <username>",
		Short: "Remove an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := checkUserName(args[0])
			if err != nil {
				return err
			}
			path, err := app.UsersFile(env.cfg)
			if err != nil {
				return err
			}
			users, err := readUsers(path)
			if err != nil {
				return err
			}
			if _, ok := users[user]; !ok {
				return fmt.Errorf("user %q not found", user)
			}
			if !yes {
				ok, err := promptYesNo(fmt.Sprintf("Remove user %q? [y/N]: ", user))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.ErrOrStderr(), "no changes made")
					return nil
				}
			}
			if err := upsertUsersFile(path, user, ""); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "updated %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "remove without asking")
	return cmd
}

func newHashCmd() *cobra.Command {
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print an argon2id hash for a password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readNewPassword(cmd.InOrStdin(), passwordStdin)
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func checkUserName(raw string) (string, error) {
	user := strings.TrimSpace(raw)
	if user == "" {
		return "", errors.New("username must not be empty")
	}
	if strings.ContainsAny(user, ": \t") {
		return "", errors.New("username must not contain ':' or whitespace")
	}
	return user, nil
}

func parseRoleFlag(raw string) ([]string, error) {
	roles := auth.ParseRoles(raw)
	for _, role := range roles {
		switch role {
		case perm.RoleVisitor, perm.RoleFriend, perm.RoleAdmin:
		default:
			return nil, fmt.Errorf("unknown role %q", role)
		}
	}
	return roles, nil
}

func parseExpiryFlag(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad expiry %q: want YYYY-MM-DD", raw)
	}
	return t, nil
}

func readUsers(path string) (map[string]auth.Account, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return map[string]auth.Account{}, nil
		}
		return nil, fmt.Errorf("stat auth file: %w", err)
	}
	return auth.LoadFile(path)
}

func readNewPassword(stdin io.Reader, fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read password: %w", err)
		}
		password := strings.TrimSpace(line)
		if password == "" {
			return "", errors.New("empty password")
		}
		return password, nil
	}
	password, err := promptPassword("Password: ")
	if err != nil {
		return "", err
	}
	confirm, err := promptPassword("Confirm: ")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", errors.New("passwords do not match")
	}
	if password == "" {
		return "", errors.New("empty password")
	}
	return password, nil
}

func promptPassword(prompt string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("stdin is not a terminal; use --password-stdin")
	}
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(string(pass)), nil
}

func promptYesNo(prompt string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, errors.New("stdin is not a terminal; use --yes")
	}
	fmt.Fprint(os.Stderr, prompt)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read response: %w", err)
	}
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes", nil
}

// upsertUsersFile replaces the line of user with line, appending it when the
// user is new. An empty line removes the user. Comments are preserved.
func upsertUsersFile(path, user, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create auth dir: %w", err)
	}
	var lines []string
	updated := false
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read auth file: %w", err)
	}
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		raw := scanner.Text()
		trim := strings.TrimSpace(raw)
		if trim == "" || strings.HasPrefix(trim, "#") {
			lines = append(lines, raw)
			continue
		}
		name, _, ok := strings.Cut(trim, ":")
		if !ok {
			return fmt.Errorf("invalid auth line %d: expected user:hash", lineNum)
		}
		if strings.TrimSpace(name) != user {
			lines = append(lines, raw)
			continue
		}
		updated = true
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read auth file: %w", err)
	}
	if !updated && line != "" {
		lines = append(lines, line)
	}
	out := strings.Join(lines, "\n")
	if out != "" {
		out += "\n"
	}
	if err := sharefs.WriteFileAtomic(path, []byte(out), 0o600); err != nil {
		return fmt.Errorf("replace auth file: %w", err)
	}
	return nil
}
