package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

func newProbeCmd() *cobra.Command {
	var (
		rawArgs string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe <url> [tool]",
		Short: "List the tools of an MCP server and optionally call one",
		Long: `probe connects to a streamable HTTP MCP endpoint, prints the server's
tools and, when a tool name is given, calls it with the JSON object from --args.`,
		Example: `  mcp-weather probe http://localhost:3000/mcp
  mcp-weather probe http://localhost:3000/mcp get-weather --args '{"city":"Amsterdam"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var toolArgs map[string]any
			if rawArgs != "" {
				if err := json.Unmarshal([]byte(rawArgs), &toolArgs); err != nil {
					return fmt.Errorf("--args must be a JSON object: %w", err)
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			tool := ""
			if len(args) == 2 {
				tool = args[1]
			}
			return probe(ctx, cmd.OutOrStdout(), args[0], tool, toolArgs)
		},
	}

	cmd.Flags().StringVarP(&rawArgs, "args", "a", "", "Tool arguments as a JSON object")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall probe timeout")
	return cmd
}

func probe(ctx context.Context, out io.Writer, endpoint, tool string, args map[string]any) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed, color.Bold)
	gray := color.New(color.FgHiBlack)

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "mcp-weather-probe", Version: version}, nil)
	session, err := client.Connect(ctx, &mcpsdk.StreamableClientTransport{Endpoint: endpoint}, nil)
	if err != nil {
		return fmt.Errorf("error connecting to %s: %w", endpoint, err)
	}
	defer session.Close()

	info := session.InitializeResult()
	green.Fprint(out, "▶ ")
	fmt.Fprintf(out, "Server:   ")
	cyan.Fprintf(out, "%s %s", info.ServerInfo.Name, info.ServerInfo.Version)
	gray.Fprintf(out, " (protocol %s)\n", info.ProtocolVersion)

	list, err := session.ListTools(ctx, nil)
	if err != nil {
		return fmt.Errorf("error listing tools: %w", err)
	}
	green.Fprint(out, "▶ ")
	fmt.Fprintf(out, "Tools:    %d\n", len(list.Tools))
	for _, t := range list.Tools {
		fmt.Fprint(out, "    ")
		cyan.Fprint(out, t.Name)
		if t.Description != "" {
			gray.Fprintf(out, "  %s", t.Description)
		}
		fmt.Fprintln(out)
	}

	if tool == "" {
		return nil
	}

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return fmt.Errorf("error calling %s: %w", tool, err)
	}

	if res.IsError {
		red.Fprint(out, "✗ ")
	} else {
		green.Fprint(out, "▶ ")
	}
	fmt.Fprintf(out, "Result:   %s\n", tool)
	for _, c := range res.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			for _, line := range strings.Split(text.Text, "\n") {
				fmt.Fprintf(out, "    %s\n", line)
			}
		}
	}
	if res.IsError {
		return fmt.Errorf("tool %s reported an error", tool)
	}
	return nil
}
