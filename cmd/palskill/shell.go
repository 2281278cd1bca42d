package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactively retrieve and execute skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			runShell(newClient(cmd))
			return nil
		},
	}
}

func runShell(c *client) {
	fmt.Println("palskill shell")
	fmt.Printf("Server: %s\n", c.base)
	fmt.Println("Type a call expression to execute it, or 'exit' to leave.")
	fmt.Println("Commands: /skills, /retrieve <task>")
	fmt.Println("---")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
			continue
		case input == "exit" || input == "quit":
			fmt.Println("Bye!")
			return
		case input == "/skills":
			skills, err := c.listSkills()
			if err != nil {
				printError("Failed to fetch skills: %v", err)
				continue
			}
			for _, s := range skills {
				fmt.Printf("  %s\n", s.Signature)
			}
		case strings.HasPrefix(input, "/retrieve "):
			res, err := c.retrieve(strings.TrimPrefix(input, "/retrieve "), 0, "")
			if err != nil {
				printError("Retrieve failed: %v", err)
				continue
			}
			fmt.Printf("\033[36m%s\033[0m\n", strings.Join(res.Skills, ", "))
		default:
			info, err := c.execute([]string{input})
			if err != nil {
				printError("Request failed: %v", err)
				continue
			}
			printExecInfo(info)
		}
	}
}
