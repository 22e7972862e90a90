package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aethiopicuschan/zapcat/logger"
	"github.com/aethiopicuschan/zapcat/version"
)

func main() {
	config, err := LoadConfig()
	if err != nil {
		logger.StderrLogger.Errorf("%v", err)
		os.Exit(1)
	}
	if err := NewRootCommand(config, os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func NewRootCommand(config Config, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "zapcat",
		Short: "zapcat answers monitoring server checks from inside your process.",
		Long: `zapcat is a passive monitoring agent. A monitoring server connects,
asks for one item (a managed object attribute, a property, an environment
variable, agent.ping or agent.version) and reads back the value.

` + version.Identity() + "\n",
		Version:      version.GetVersion(),
		SilenceUsage: true,
	}

	rc.AddCommand(newServeCommand(config, stderr))
	rc.AddCommand(newGetCommand(config, stdout))
	rc.AddCommand(newTrapCommand(config, stderr))
	rc.AddCommand(newPublishCommand(config, stderr))
	rc.AddCommand(newVersionCommand(stdout))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

func newVersionCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agent identity",
		Args:  cobra.NoArgs,
		Run: func(c *cobra.Command, args []string) {
			fmt.Fprintln(stdout, version.Identity())
		},
	}
}
