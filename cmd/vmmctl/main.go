// Command vmmctl is a thin CLI over vmmcore, in the spirit of the teacher's
// cmd/fcctl: a way to drive the library from a terminal rather than from a
// containerd shim or another embedder.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	jsonOutput bool
	log        = logrus.New()
)

func main() {
	root := &cobra.Command{
		Use:           "vmmctl",
		Short:         "Drive vmmcore microVMs from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "/etc/vmmcore/config.toml", "path to vmmcore TOML configuration")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print command output as JSON")

	root.AddCommand(
		newVersionCommand(),
		newVerifyCommand(),
		newConfigCommand(),
		newVMCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vmmctl:", err)
		os.Exit(1)
	}
}

func newLogger() *logrus.Entry {
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return logrus.NewEntry(log)
}
