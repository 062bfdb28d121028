// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"strconv"

	"github.com/TheThingsNetwork/mqtt-telemetry-agent/sensor"
	"github.com/spf13/cobra"
)

// CalibrateCmd stores the offset between a reference value and the sensor value
var CalibrateCmd = &cobra.Command{
	Use:   "calibrate [real] [sensor]",
	Short: "Calibrate the sensor against a reference value",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		reference, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			ctx.WithError(err).Fatal("Invalid real value")
		}
		value, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			ctx.WithError(err).Fatal("Invalid sensor value")
		}
		filename := config.GetString("calibration-file")
		if filename == "" {
			ctx.Fatal("No calibration file configured")
		}
		calibration, err := sensor.NewCalibration(filename, ctx)
		if err != nil {
			ctx.WithError(err).Fatal("Could not load calibration")
		}
		defer calibration.Close()
		calibration.Calibrate(reference, value)
		if err := calibration.Save(); err != nil {
			ctx.WithError(err).Fatal("Could not save calibration")
		}
	},
}

func init() {
	AgentCmd.AddCommand(CalibrateCmd)
}
