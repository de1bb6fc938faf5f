package cmd

import (
	"github.com/smazurov/camnode/internal/device/sim"
	"github.com/spf13/cobra"
)

// simFlags selects the simulated cameras used by the offline commands.
type simFlags struct {
	cameras int
	fps     float64
	width   int
	height  int
	mono    bool
}

func (f *simFlags) register(cmd *cobra.Command) {
	def := sim.DefaultOptions()
	cmd.Flags().IntVar(&f.cameras, "sim-cameras", def.Cameras, "Number of simulated cameras")
	cmd.Flags().Float64Var(&f.fps, "sim-fps", def.FPS, "Simulated frame rate")
	cmd.Flags().IntVar(&f.width, "sim-width", def.Width, "Simulated sensor width")
	cmd.Flags().IntVar(&f.height, "sim-height", def.Height, "Simulated sensor height")
	cmd.Flags().BoolVar(&f.mono, "sim-mono", false, "Simulate mono sensors")
}

func (f *simFlags) driver() *sim.Driver {
	return sim.New(sim.Options{
		Cameras: f.cameras,
		FPS:     f.fps,
		Width:   f.width,
		Height:  f.height,
		Mono:    f.mono,
	})
}
