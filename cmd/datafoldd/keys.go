package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage registered client signing keys directly against a node's storage directory",
}

var keysRegisterCmd = &cobra.Command{
	Use:   "register <client-id> <hex-public-key>",
	Short: "Register a client's Ed25519 public key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		clientID, hexKey := args[0], args[1]
		raw, err := hex.DecodeString(hexKey)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return fmt.Errorf("public key must be hex-encoded %d bytes", ed25519.PublicKeySize)
		}

		n, closeFn, err := openLocalNode(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		reg, err := n.RegisterClientKey(clientID, ed25519.PublicKey(raw))
		if err != nil {
			return fmt.Errorf("failed to register key: %w", err)
		}
		fmt.Printf("registered client %q (registration_id=%s, status=%s)\n", reg.ClientID, reg.RegistrationID, reg.Status)
		return nil
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <client-id>",
	Short: "Revoke a client's registered public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, closeFn, err := openLocalNode(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := n.RevokeClientKey(args[0]); err != nil {
			return fmt.Errorf("failed to revoke key: %w", err)
		}
		fmt.Printf("revoked client %q\n", args[0])
		return nil
	},
}

var keysStatusCmd = &cobra.Command{
	Use:   "status <client-id>",
	Short: "Show a client's registration status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, closeFn, err := openLocalNode(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		reg, found, err := n.Registrations.Lookup(args[0])
		if err != nil {
			return fmt.Errorf("failed to look up client: %w", err)
		}
		if !found {
			fmt.Printf("client %q has no registration\n", args[0])
			return nil
		}
		fmt.Printf("client_id=%s status=%s registered_at=%s\n", reg.ClientID, reg.Status, reg.RegisteredAt.Format("2006-01-02T15:04:05Z07:00"))
		return nil
	},
}

func init() {
	keysCmd.AddCommand(keysRegisterCmd)
	keysCmd.AddCommand(keysRevokeCmd)
	keysCmd.AddCommand(keysStatusCmd)
}
