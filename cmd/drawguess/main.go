package main

import (
	"github.com/spf13/cobra"

	"github.com/scythe504/drawguess/internal/config"
)

const releaseVersion = "0.4.0"

func main() {
	cfg := &config.Config{}
	cobra.CheckErr(newCmd(cfg).Execute())
}
