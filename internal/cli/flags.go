package cli

import (
	"github.com/iamgatling/mxxc/internal/config"
	"github.com/iamgatling/mxxc/internal/utils"
	"github.com/spf13/cobra"
)

// connFlags are the connection flags shared by send and receive.
type connFlags struct {
	relayURL   string
	stun       string
	turn       string
	turnUser   string
	turnPass   string
	forceRelay bool
}

func (f *connFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.relayURL, "relay-url", "", "Signaling relay websocket URL (env MXXC_RELAY_URL)")
	cmd.Flags().StringVar(&f.stun, "stun", "", "STUN server URL (env STUN_SERVER)")
	cmd.Flags().StringVar(&f.turn, "turn", "", "TURN server host or URL (env TURN_SERVER)")
	cmd.Flags().StringVar(&f.turnUser, "turn-user", "", "TURN username (env TURN_USERNAME)")
	cmd.Flags().StringVar(&f.turnPass, "turn-pass", "", "TURN password (env TURN_PASSWORD)")
	cmd.Flags().BoolVar(&f.forceRelay, "force-relay", false, "Only use TURN relay candidates")
}

func (f *connFlags) load(outputDir string) (*config.Config, error) {
	return config.Load(config.Options{
		RelayURL:   f.relayURL,
		STUNServer: f.stun,
		TURNServer: f.turn,
		TURNUser:   f.turnUser,
		TURNPass:   f.turnPass,
		// Behind a VPN or CGNAT direct candidates rarely work.
		ForceRelay: f.forceRelay || (f.turn != "" && utils.ShouldForceRelay()),
		OutputDir:  outputDir,
	})
}
