package cli

import "github.com/urfave/cli/v3"

// joinFlags concatenates per-config flag groups for a command
func joinFlags(groups ...[]cli.Flag) []cli.Flag {
	var flags []cli.Flag
	for _, group := range groups {
		flags = append(flags, group...)
	}
	return flags
}
