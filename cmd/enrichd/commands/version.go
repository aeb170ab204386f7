package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/outfield/enrichd/internal/version"
)

// VersionCmd prints version information
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("enrichd %s (%s, %s/%s)\n",
			version.VersionTag, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}
