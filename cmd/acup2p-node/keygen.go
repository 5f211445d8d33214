package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Acurast/acup2p/pkg/config"
	"github.com/Acurast/acup2p/pkg/identity"
)

// keygen prints a config snippet with a fresh keypair identity.
func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 identity and print it as config",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.Random()
			if err != nil {
				return err
			}
			priv, err := id.PrivateKey()
			if err != nil {
				return err
			}
			b, err := yaml.Marshal(struct {
				Identity config.IdentityConfig `yaml:"identity"`
			}{config.IdentityConfig{Kind: config.IdentityKeypair, PrivateKey: identity.EncodeKey(priv)}})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# node_id: %s\n", id.NodeID())
			_, err = out.Write(b)
			return err
		},
	}
}
