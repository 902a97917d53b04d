package command

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/cloudlock-go/internal/cli/config"
	"github.com/yndnr/cloudlock-go/internal/cli/output"
	"github.com/yndnr/cloudlock-go/internal/crypto/kek"
)

// Files written by keygen --out-dir.
const (
	PublicKeyFile  = "cluster.pub"
	PrivateKeyFile = "cluster.key"
)

// DefaultKeyBits is the RSA modulus size keygen uses by default.
const DefaultKeyBits = kek.MinRSABits

type keyPair struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

type keyFiles struct {
	PublicKeyFile  string `json:"public_key_file"`
	PrivateKeyFile string `json:"private_key_file"`
}

// KeygenCommand returns the keygen command.
func KeygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Generate a cluster RSA key pair",
		Description: "Prints a base64 X.509 public key for crypto.public_key in the server\n" +
			"configuration and the base64 PKCS#8 private key for 'key init'.",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "bits",
				Usage: fmt.Sprintf("RSA key size (at least %d)", kek.MinRSABits),
				Value: DefaultKeyBits,
			},
			&cli.StringFlag{
				Name:  "out-dir",
				Usage: "Write " + PublicKeyFile + " and " + PrivateKeyFile + " into this directory instead of printing them",
			},
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "Overwrite existing key files",
			},
		},
		Action: keygen,
	}
}

func keygen(c *cli.Context) error {
	pub, priv, err := kek.GenerateKeyPair(c.Int("bits"))
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	s, err := cfg.Resolve(config.Overrides{Output: c.String("output")})
	if err != nil {
		return err
	}

	dir := c.String("out-dir")
	if dir == "" {
		return output.Print(writer(c), s.Output, c.Bool("wide"), keyPair{PublicKey: pub, PrivateKey: priv})
	}

	files := keyFiles{
		PublicKeyFile:  filepath.Join(dir, PublicKeyFile),
		PrivateKeyFile: filepath.Join(dir, PrivateKeyFile),
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if c.Bool("force") {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	if err := writeKeyFile(files.PrivateKeyFile, priv, flags, 0o600); err != nil {
		return err
	}
	if err := writeKeyFile(files.PublicKeyFile, pub, flags, 0o644); err != nil {
		return err
	}
	return output.Print(writer(c), s.Output, false, files)
}

func writeKeyFile(path, key string, flags int, perm os.FileMode) error {
	f, err := os.OpenFile(path, flags, perm)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(f, key); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
