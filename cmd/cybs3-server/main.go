// Command cybs3-server runs the S3-compatible HTTP front end: bucket
// and object routes backed by a storage.Backend, KMS-compatible key
// management, and access-control enforcement, serving the credentials
// held in the operator's encrypted config store.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cybou-fr/cybs3/internal/apierr"
	"github.com/cybou-fr/cybs3/internal/config"
	"github.com/cybou-fr/cybs3/internal/keystore"
	"github.com/cybou-fr/cybs3/internal/kms"
	"github.com/cybou-fr/cybs3/internal/logger"
	"github.com/cybou-fr/cybs3/internal/s3server"
	"github.com/cybou-fr/cybs3/internal/storage"
)

const keyDeletionSweepInterval = 5 * time.Minute

func main() {
	if err := newServerCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cybs3-server:", err)
		if apiErr, ok := apierr.As(err); ok {
			os.Exit(apiErr.ExitCode())
		}
		os.Exit(1)
	}
}

func newServerCommand() *cobra.Command {
	var configFile, configDir, mnemonicPhrase string

	cmd := &cobra.Command{
		Use:   "cybs3-server",
		Short: "Run the cybs3 S3-compatible storage server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile, configDir, mnemonicPhrase)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "path to a YAML server config file")
	cmd.Flags().StringVar(&configDir, "config-dir", defaultServerConfigDir(), "directory holding the encrypted config store")
	cmd.Flags().StringVar(&mnemonicPhrase, "mnemonic", os.Getenv("CYBS3_MNEMONIC"), "mnemonic unlocking the config store")
	return cmd
}

func defaultServerConfigDir() string {
	if dir := os.Getenv("CYBS3_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "./.cybs3"
}

func run(configFile, configDir, mnemonicPhrase string) error {
	log := logger.New()

	srvCfg, err := config.LoadServerConfig(configFile)
	if err != nil {
		return err
	}

	store, err := keystore.Load(configDir, mnemonicPhrase)
	if err != nil {
		return err
	}

	backend, err := storage.NewFSBackend(srvCfg.DataDir)
	if err != nil {
		return err
	}

	kmsSvc, err := kms.Open(srvCfg.KMSKeystorePath, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go kms.NewScheduler(kmsSvc, keyDeletionSweepInterval, log.Logger).Run(ctx)

	srv := s3server.New(backend, credentialsFromStore(store), s3server.WithKMS(kmsSvc), s3server.WithOwnerID("server"))

	log.Info("cybs3-server listening", "address", srvCfg.ListenAddress, "data_dir", srvCfg.DataDir)
	return http.ListenAndServe(srvCfg.ListenAddress, srv.Handler())
}

// credentialsFromStore turns every vault with an access key into a
// signing credential the server will accept, keyed by access key ID
// and attributed to the vault's name as principal.
func credentialsFromStore(store *keystore.Store) s3server.StaticCredentials {
	creds := s3server.StaticCredentials{}
	cfg := store.Config()
	for name, v := range cfg.Vaults {
		if v.AccessKey == "" {
			continue
		}
		creds[v.AccessKey] = s3server.Credential{AccessKey: v.AccessKey, SecretKey: v.SecretKey, Principal: name}
	}
	return creds
}
