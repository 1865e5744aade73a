package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cybou-fr/cybs3/internal/keystore"
)

func newVaultCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "vault", Short: "Manage configured S3-compatible vault endpoints"}
	cmd.AddCommand(newVaultAddCommand(), newVaultListCommand(), newVaultUseCommand(), newVaultRemoveCommand())
	return cmd
}

func newVaultAddCommand() *cobra.Command {
	var endpoint, region, accessKey, secretKey string
	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Add a new vault endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			return store.AddVault(keystore.VaultConfig{
				Name:      args[0],
				Endpoint:  endpoint,
				Region:    region,
				AccessKey: accessKey,
				SecretKey: secretKey,
				CreatedAt: time.Now(),
			})
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "S3-compatible endpoint URL")
	cmd.Flags().StringVar(&region, "region", "", "region")
	cmd.Flags().StringVar(&accessKey, "access-key", "", "access key")
	cmd.Flags().StringVar(&secretKey, "secret-key", "", "secret key")
	return cmd
}

func newVaultListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured vaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			cfg := store.Config()
			for name, v := range cfg.Vaults {
				marker := " "
				if name == cfg.ActiveVaultName {
					marker = "*"
				}
				fmt.Printf("%s %-20s %s (%s)\n", marker, name, v.Endpoint, v.Region)
			}
			return nil
		},
	}
}

func newVaultUseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "use [name]",
		Short: "Set the active vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			return store.SetActiveVault(args[0])
		},
	}
}

func newVaultRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [name]",
		Short: "Remove a configured vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			return store.RemoveVault(args[0])
		},
	}
}
