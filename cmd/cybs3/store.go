package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/cybou-fr/cybs3/internal/apierr"
	"github.com/cybou-fr/cybs3/internal/keystore"
)

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to resolve home directory", err)
	}
	return filepath.Join(home, ".cybs3"), nil
}

// openStore unlocks the encrypted config store with the mnemonic
// resolved via flag/env (config.RegisterFlags bound these on the root
// command), prompting on stdin if neither supplied one.
func openStore() (*keystore.Store, error) {
	dir, err := defaultConfigDir()
	if err != nil {
		return nil, err
	}
	phrase := viper.GetString("mnemonic")
	if phrase == "" {
		phrase, err = promptLine("Mnemonic: ")
		if err != nil {
			return nil, err
		}
	}
	return keystore.Load(dir, phrase)
}

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to read from stdin", err)
	}
	return strings.TrimSpace(line), nil
}
