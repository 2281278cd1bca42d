package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nidhogg/palskill/internal/api"
	"github.com/nidhogg/palskill/internal/callexpr"
	"github.com/nidhogg/palskill/internal/registry"
	"github.com/nidhogg/palskill/internal/skill"
)

// client is a thin JSON client for the palskill HTTP API.
type client struct {
	base string
	http *http.Client
}

func newClient(cmd *cobra.Command) *client {
	server, _ := cmd.Flags().GetString("server")
	return &client{
		base: strings.TrimRight(server, "/"),
		http: &http.Client{Timeout: 65 * time.Second},
	}
}

func (c *client) do(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *client) listSkills() ([]api.SkillSummary, error) {
	var out []api.SkillSummary
	return out, c.do(http.MethodGet, "/api/skills", nil, &out)
}

type retrieved struct {
	Skills []string `json:"skills"`
	Prompt string   `json:"prompt"`
}

func (c *client) retrieve(query string, topK int, tag string) (retrieved, error) {
	var out retrieved
	err := c.do(http.MethodPost, "/api/skills/retrieve",
		map[string]any{"query": query, "top_k": topK, "context": tag}, &out)
	return out, err
}

func (c *client) execute(actions []string) (registry.ExecInfo, error) {
	var out registry.ExecInfo
	err := c.do(http.MethodPost, "/api/execute", map[string]any{"actions": actions}, &out)
	return out, err
}

func newSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "skills", Short: "Inspect and edit the skill catalog"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every skill",
		RunE: func(cmd *cobra.Command, args []string) error {
			skills, err := newClient(cmd).listSkills()
			if err != nil {
				return err
			}
			for _, s := range skills {
				fmt.Printf("%-32s %s\n", s.Signature, s.Origin)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get NAME",
		Short: "Show a skill's contract and code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var c skill.Contract
			if err := newClient(cmd).do(http.MethodGet, "/api/skills/"+url.PathEscape(args[0]), nil, &c); err != nil {
				return err
			}
			fmt.Printf("%s\n\n%s\n", c.Expression, c.Code)
			return nil
		},
	})

	var overwrite bool
	register := &cobra.Command{
		Use:   "register FILE",
		Short: "Register skill code from a Lua file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readInput(args[0])
			if err != nil {
				return err
			}
			var res registry.Result
			err = newClient(cmd).do(http.MethodPost, "/api/skills", map[string]any{"code": code, "overwrite": overwrite}, &res)
			if err != nil {
				return err
			}
			fmt.Println(res.Message)
			return nil
		},
	}
	register.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing skill of the same name")
	cmd.AddCommand(register)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient(cmd).do(http.MethodDelete, "/api/skills/"+url.PathEscape(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "save",
		Short: "Persist the skill library",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(cmd).do(http.MethodPost, "/api/library/save", nil, nil)
		},
	})
	return cmd
}

func newRetrieveCmd() *cobra.Command {
	var (
		topK int
		tag  string
	)
	cmd := &cobra.Command{
		Use:   "retrieve QUERY",
		Short: "Retrieve the skills to offer for a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newClient(cmd).retrieve(strings.Join(args, " "), topK, tag)
			if err != nil {
				return err
			}
			fmt.Print(res.Prompt)
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of ranked skills (0 uses the server default)")
	cmd.Flags().StringVar(&tag, "context", "", "game screen the agent is looking at")
	return cmd
}

// newParseCmd parses locally; it needs no server.
func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse EXPR",
		Short: "Parse a call expression and print its arguments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			calls, err := callexpr.Parse(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(calls)
		},
	}
}

func newExecuteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute ACTION...",
		Short: "Execute actions in order on the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := newClient(cmd).execute(args)
			if err != nil {
				return err
			}
			printExecInfo(info)
			if info.Errors {
				return fmt.Errorf("execution stopped")
			}
			return nil
		},
	}
}

func printExecInfo(info registry.ExecInfo) {
	for i, e := range info.Executed {
		fmt.Printf("\033[32m✓\033[0m %s", e)
		if i < len(info.Results) && info.Results[i] != nil {
			fmt.Printf(" -> %v", info.Results[i])
		}
		fmt.Println()
	}
	if info.Errors {
		printError("%s", info.ErrorsInfo)
	}
}

func readInput(path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}

func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
