package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	poliscert "github.com/polisai/polis-adblock/internal/tls"
)

func newCACmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ca",
		Short: "Generate the certificate authority used to intercept HTTPS hosts",
		Long: `Generate a self-signed CA. Install the certificate on the device and point
server.ca_cert_file and server.ca_key_file at the generated files.`,
		// The CA does not need a configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			outDir, _ := cmd.Flags().GetString("output-dir")
			commonName, _ := cmd.Flags().GetString("cn")
			validFor, _ := cmd.Flags().GetDuration("valid-for")
			keySize, _ := cmd.Flags().GetInt("key-size")
			force, _ := cmd.Flags().GetBool("force")

			certFile := filepath.Join(outDir, "ca.pem")
			keyFile := filepath.Join(outDir, "ca-key.pem")
			if !force {
				for _, path := range []string{certFile, keyFile} {
					if _, err := os.Stat(path); err == nil {
						return fmt.Errorf("%s already exists, use --force to overwrite", path)
					}
				}
			}

			certPEM, keyPEM, err := poliscert.GenerateCA(poliscert.CAOptions{
				CommonName:   commonName,
				Organization: []string{"polis-adblock"},
				ValidFor:     validFor,
				KeySize:      keySize,
			})
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o750); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			if err := poliscert.WriteCertificateFiles(certPEM, keyPEM, certFile, keyFile); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "certificate: %s\nkey:         %s\n", certFile, keyFile)
			return nil
		},
	}

	cmd.Flags().String("output-dir", ".", "Output directory for the CA files")
	cmd.Flags().String("cn", "polis-adblock CA", "Common name of the CA")
	cmd.Flags().Duration("valid-for", 2*365*24*time.Hour, "CA validity duration")
	cmd.Flags().Int("key-size", 2048, "RSA key size in bits")
	cmd.Flags().Bool("force", false, "Overwrite existing files")
	return cmd
}
