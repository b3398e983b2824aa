package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// shellCommands lists the available commands for the interactive shell help output.
var shellCommands = []struct {
	name string
	desc string
}{
	{"lib", "Show the label information base"},
	{"lsp", "Show local labels and their nexthops"},
	{"mp2mp show", "Show MP2MP trees"},
	{"mp2mp join <prefix>", "Join an MP2MP tree"},
	{"mp2mp leave <prefix>", "Leave an MP2MP tree"},
	{"neighbor", "Show operational neighbors"},
	{"messages [--peer <id>]", "Show recent messages sent to neighbors"},
	{"gc", "Run a garbage collection sweep"},
	{"version", "Print build information"},
	{"help", "Show this help message"},
	{"exit / quit", "Leave the interactive shell"},
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive goldpctl shell",
		Long:  "Launches a simple REPL that accepts goldpctl subcommands. Type 'help', 'exit', or 'quit'.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			printShellBanner()
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Print("goldpctl> ")

			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())

				switch {
				case line == "exit" || line == "quit":
					return nil
				case line == "help" || line == "?":
					printShellHelp()
				case line == "shell":
					fmt.Fprintln(os.Stderr, "Error: already in the shell")
				case line != "":
					rootCmd.SetArgs(strings.Fields(line))

					if err := rootCmd.Execute(); err != nil {
						fmt.Fprintln(os.Stderr, "Error:", err)
					}
				}

				fmt.Print("goldpctl> ")
			}

			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}

			return nil
		},
	}
}

// printShellBanner prints a welcome message when the shell starts.
func printShellBanner() {
	fmt.Println("goldp interactive shell. Type 'help' for available commands, 'exit' to quit.")
	fmt.Println()
}

// printShellHelp prints a formatted list of available shell commands.
func printShellHelp() {
	fmt.Println("Available commands:")
	fmt.Println()

	for _, cmd := range shellCommands {
		fmt.Printf("  %-30s %s\n", cmd.name, cmd.desc)
	}

	fmt.Println()
}
