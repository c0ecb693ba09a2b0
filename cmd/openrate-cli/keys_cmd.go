package main

import (
	"errors"
	"fmt"
	"os"

	"openrate/crypto"
)

func (c *cli) runKeygen(args []string) int {
	fs := newFlagSet("keygen", c.stderr)
	var out string
	var force bool
	fs.StringVar(&out, "out", "", "keystore file to create")
	fs.BoolVar(&force, "force", false, "overwrite an existing keystore")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if err := required("out", out); err != nil {
		return c.fail(err)
	}
	if _, err := os.Stat(out); err == nil && !force {
		return c.fail(fmt.Errorf("%s already exists; pass --force to overwrite", out))
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return c.fail(err)
	}
	pass, err := c.passphraseSource(true).Get()
	if err != nil {
		return c.fail(err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return c.fail(err)
	}
	if err := crypto.SaveToKeystore(out, key, pass); err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, key.Address().String())
	return 0
}

// runAddress reads the address stored in clear in the keystore, so no
// passphrase is needed.
func (c *cli) runAddress(args []string) int {
	fs := newFlagSet("address", c.stderr)
	var keyPath string
	var hex bool
	fs.StringVar(&keyPath, "key", "", "keystore file")
	fs.BoolVar(&hex, "hex", false, "print the raw 0x form")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if err := required("key", keyPath); err != nil {
		return c.fail(err)
	}
	addr, err := crypto.KeystoreAddress(keyPath)
	if err != nil {
		return c.fail(err)
	}
	if hex {
		fmt.Fprintf(c.stdout, "0x%x\n", addr.Bytes())
		return 0
	}
	fmt.Fprintln(c.stdout, addr.String())
	return 0
}
