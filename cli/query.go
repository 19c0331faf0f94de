package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/symdex/symdex/commands"
	"github.com/symdex/symdex/config"
	"github.com/symdex/symdex/request"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Send a request to the running daemon",
	Long: `Send one request to the daemon over its Unix domain socket and print
the response.

The daemon must be running in this project ('symdex --background').`,
}

func init() {
	// The daemon command set doubles as the client-side schema: one cobra
	// subcommand per daemon command, one string flag per parameter. Handlers
	// are never invoked here, so the registry is built without collaborators.
	registry := commands.Register(request.NewRegistry(), commands.Deps{})
	for _, c := range registry.Commands() {
		queryCmd.AddCommand(newQuerySubcommand(c))
	}
	rootCmd.AddCommand(queryCmd)
}

func newQuerySubcommand(c *request.Command) *cobra.Command {
	name := c.Name()
	params := c.Params()

	sub := &cobra.Command{
		Use:   name,
		Short: c.Description(),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"command": name}
			for _, p := range params {
				if !cmd.Flags().Changed(p.Name) {
					continue
				}
				raw, _ := cmd.Flags().GetString(p.Name)
				req[p.Name] = decodeFlagValue(raw)
			}
			return sendRequest(req)
		},
	}
	for _, p := range params {
		usage := p.Description
		if p.Metavar != "" {
			usage = fmt.Sprintf("%s (%s)", p.Description, p.Metavar)
		}
		sub.Flags().String(p.Name, "", usage)
	}
	return sub
}

// decodeFlagValue interprets a flag value as JSON when possible so numeric
// and boolean parameters round-trip with their wire types. Anything that is
// not valid JSON is sent as a plain string.
func decodeFlagValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func sendRequest(req map[string]any) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	if !config.Exists(cwd) {
		return fmt.Errorf("symdex is not initialized in %s (run 'symdex init' first)", cwd)
	}

	conn, err := net.DialTimeout("unix", config.GetSocketPath(cwd), 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon (is it running? try 'symdex --background'): %w", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	var resp request.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		if err == io.EOF {
			return fmt.Errorf("daemon closed the connection without a response")
		}
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.Output != "" {
		fmt.Print(resp.Output)
	}
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}
