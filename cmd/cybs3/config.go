package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cybou-fr/cybs3/internal/config"
	"github.com/cybou-fr/cybs3/internal/keystore"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect resolved configuration"}
	cmd.AddCommand(newConfigShowCommand())
	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the CLI/env/vault/default-resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			var vault *keystore.VaultConfig
			if active, err := store.ActiveVault(); err == nil {
				vault = &active
			}
			cfg := config.Load(vault)
			fmt.Printf("region:         %s\n", cfg.Region)
			fmt.Printf("bucket:         %s\n", cfg.Bucket)
			fmt.Printf("access-key-id:  %s\n", cfg.AccessKeyID)
			return nil
		},
	}
}
