package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cybou-fr/cybs3/internal/mnemonic"
)

func newKeysCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "Manage the mnemonic that unlocks the config store"}
	cmd.AddCommand(newKeysRotateCommand())
	return cmd
}

// newKeysRotateCommand wires keystore.Store.RotateKey end-to-end: it
// unlocks the store with the current mnemonic, generates a fresh one,
// re-seals the store under it, and prints the new phrase once. The
// data key -- and therefore every already-sealed object -- is
// untouched by the rotation.
func newKeysRotateCommand() *cobra.Command {
	var words int
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the mnemonic protecting the config store",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			newPhrase, err := mnemonic.Generate(words)
			if err != nil {
				return err
			}
			if err := store.RotateKey(newPhrase); err != nil {
				return err
			}
			fmt.Println("new mnemonic -- write this down, it will not be shown again:")
			fmt.Println(newPhrase)
			return nil
		},
	}
	cmd.Flags().IntVar(&words, "words", 24, "word count for the new mnemonic (12/15/18/21/24)")
	return cmd
}
