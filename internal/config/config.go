// Package config resolves the credential and endpoint settings a cybs3
// command runs with: CLI flag, then environment variable, then the
// active vault's stored settings, then a hardcoded default.
package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cybou-fr/cybs3/internal/keystore"
)

// DefaultRegion is used when no flag, env var, or vault supplies one.
const DefaultRegion = "us-east-1"

// Config is the resolved set of credentials and endpoint settings.
type Config struct {
	Mnemonic        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
}

// flagSpec pairs a CLI flag with the environment variable that can
// also supply it.
type flagSpec struct {
	flag  string
	usage string
	env   string
}

var flagSpecs = []flagSpec{
	{"mnemonic", "BIP-39 mnemonic phrase unlocking the config store", "CYBS3_MNEMONIC"},
	{"access-key-id", "S3 access key ID", "AWS_ACCESS_KEY_ID"},
	{"secret-access-key", "S3 secret access key", "AWS_SECRET_ACCESS_KEY"},
	{"region", "S3 region", "AWS_REGION"},
	{"bucket", "default bucket", "AWS_BUCKET"},
}

// RegisterFlags adds the credential/endpoint flags to cmd's persistent
// flag set and binds each to viper alongside its environment variable.
// Once bound this way, viper.GetString already resolves a flag ahead
// of its env var for free -- the CLI > env half of the precedence
// chain comes from viper itself, not from code here.
func RegisterFlags(cmd *cobra.Command) {
	for _, f := range flagSpecs {
		cmd.PersistentFlags().String(f.flag, "", f.usage)
		_ = viper.BindPFlag(f.flag, cmd.PersistentFlags().Lookup(f.flag))
		_ = viper.BindEnv(f.flag, f.env)
	}
}

// Load resolves Config from viper, layering the active vault and the
// hardcoded default underneath whatever RegisterFlags already bound.
// viper.SetDefault only takes effect when no flag or env value was
// supplied, so calling it first with the hardcoded default and then
// with any non-empty vault field gives exactly CLI > env > vault >
// default: the vault value simply overwrites the lower of the two
// default-tier entries. The vault-tier entries are cleared first, so a
// vault passed to an earlier call does not leak into this one.
func Load(vault *keystore.VaultConfig) *Config {
	viper.SetDefault("region", DefaultRegion)
	viper.SetDefault("access-key-id", "")
	viper.SetDefault("secret-access-key", "")
	viper.SetDefault("bucket", "")

	if vault != nil {
		if vault.AccessKey != "" {
			viper.SetDefault("access-key-id", vault.AccessKey)
		}
		if vault.SecretKey != "" {
			viper.SetDefault("secret-access-key", vault.SecretKey)
		}
		if vault.Region != "" {
			viper.SetDefault("region", vault.Region)
		}
		if bucket, ok := vault.Settings["bucket"]; ok && bucket != "" {
			viper.SetDefault("bucket", bucket)
		}
	}

	return &Config{
		Mnemonic:        viper.GetString("mnemonic"),
		AccessKeyID:     viper.GetString("access-key-id"),
		SecretAccessKey: viper.GetString("secret-access-key"),
		Region:          viper.GetString("region"),
		Bucket:          viper.GetString("bucket"),
	}
}
