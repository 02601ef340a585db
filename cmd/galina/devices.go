package main

import (
	"github.com/spf13/cobra"
	"github.com/teslashibe/go-galina/pkg/audioio"
	"github.com/teslashibe/go-galina/pkg/device"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio backends available on this platform",
	Run: func(cmd *cobra.Command, args []string) {
		for _, b := range audioio.AvailableBackends() {
			printf(cmd, "%s\n", b)
		}
	},
}

var (
	detectUA     string
	detectNative bool
	detectTouch  bool
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Print the device profile derived from a browser user agent",
	Run: func(cmd *cobra.Command, args []string) {
		ua := device.UserAgent{Raw: detectUA, NativeRecognition: detectNative, TouchMac: detectTouch}
		profile := device.Detect(ua.Checks())

		strategy := "fallback"
		if profile.UsesNativeStrategy() {
			strategy = "native"
		}
		printf(cmd, "profile:  %s\n", profile)
		printf(cmd, "strategy: %s\n", strategy)
		printf(cmd, "ios:      %t\n", ua.IsIOS())
		printf(cmd, "safari:   %t\n", ua.IsSafari())
	},
}

func init() {
	detectCmd.Flags().StringVar(&detectUA, "ua", "", "Browser user agent string")
	detectCmd.Flags().BoolVar(&detectNative, "native", false, "Page reported a speech recognition API")
	detectCmd.Flags().BoolVar(&detectTouch, "touch-mac", false, "Mac user agent with touch points (iPadOS)")
}
